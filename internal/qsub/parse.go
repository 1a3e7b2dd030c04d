package qsub

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/molecpathlab/snsxt/internal/models"
)

// JobRef is a job id/name pair reported by the scheduler.
type JobRef struct {
	ID   string
	Name string
}

// Accounting is the subset of a qacct record used to classify finished jobs.
type Accounting struct {
	ExitStatus int
	Failed     int
	Found      bool
}

// OutputParser parses the text output of qsub, qstat and qacct.
type OutputParser struct {
	patterns map[string]*regexp.Regexp
}

// NewOutputParser creates a parser for SGE command output.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		patterns: map[string]*regexp.Regexp{
			"submitted":   regexp.MustCompile(`Your job (\d+) \("([^"]+)"\) has been submitted`),
			"qstat_row":   regexp.MustCompile(`^\s*(\d+)\s+\S+\s+(\S+)\s+\S+\s+(\S+)\s`),
			"exit_status": regexp.MustCompile(`^exit_status\s+(\d+)`),
			"failed":      regexp.MustCompile(`^failed\s+(\d+)`),
			"jobnumber":   regexp.MustCompile(`^jobnumber\s+(\d+)`),
			"no_record":   regexp.MustCompile(`job id \S+ not found`),
		},
	}
}

// ParseSubmission extracts the job reference from qsub stdout.
func (p *OutputParser) ParseSubmission(stdout string) (JobRef, error) {
	refs := p.FindAllJobIDNames(stdout)
	if len(refs) == 0 {
		return JobRef{}, fmt.Errorf("no job id found in qsub output: %q", strings.TrimSpace(stdout))
	}
	return refs[0], nil
}

// FindAllJobIDNames returns every submitted job mentioned in text, in order.
// The sns pipeline prints one such line per job it submits.
func (p *OutputParser) FindAllJobIDNames(text string) []JobRef {
	var refs []JobRef
	for _, m := range p.patterns["submitted"].FindAllStringSubmatch(text, -1) {
		refs = append(refs, JobRef{ID: m[1], Name: m[2]})
	}
	return refs
}

// ParseQstat maps job id to raw state code for every job row in qstat output.
func (p *OutputParser) ParseQstat(stdout string) map[string]string {
	codes := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		if m := p.patterns["qstat_row"].FindStringSubmatch(scanner.Text()); m != nil {
			codes[m[1]] = m[3]
		}
	}
	return codes
}

// ParseQacct reads exit_status and failed from qacct -j output.
func (p *OutputParser) ParseQacct(stdout string) (Accounting, error) {
	var acct Accounting
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if m := p.patterns["jobnumber"].FindStringSubmatch(line); m != nil {
			acct.Found = true
		} else if m := p.patterns["exit_status"].FindStringSubmatch(line); m != nil {
			val, err := strconv.Atoi(m[1])
			if err != nil {
				return acct, fmt.Errorf("invalid exit_status at line %d: %w", lineNum, err)
			}
			acct.ExitStatus = val
			acct.Found = true
		} else if m := p.patterns["failed"].FindStringSubmatch(line); m != nil {
			val, err := strconv.Atoi(m[1])
			if err != nil {
				return acct, fmt.Errorf("invalid failed at line %d: %w", lineNum, err)
			}
			acct.Failed = val
		}
	}
	if err := scanner.Err(); err != nil {
		return acct, fmt.Errorf("error reading qacct output: %w", err)
	}
	return acct, nil
}

// NoAccountingRecord reports whether qacct stderr says the job has no
// accounting record yet.
func (p *OutputParser) NoAccountingRecord(stderr string) bool {
	return p.patterns["no_record"].MatchString(stderr)
}

// StateForCode maps a qstat state code to a job state.
//
//	r, t, Rr, Rt        -> Running
//	qw, hqw, hRwq, Rq   -> Submitted
//	anything with E     -> Errored (e.g. Eqw)
func StateForCode(code string) models.JobState {
	switch {
	case strings.Contains(code, "E"):
		return models.JobErrored
	case strings.ContainsAny(code, "rt"):
		return models.JobRunning
	default:
		return models.JobSubmitted
	}
}
