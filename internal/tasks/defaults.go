package tasks

// DefaultRegistry returns a registry holding every built-in task.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, reg := range []Registration{
		{Name: "StartSns", Stage: StageSns, New: NewStartSns,
			Description: "copy the sns repo and targets into a new analysis dir, gather fastqs, generate settings"},
		{Name: "SnsWes", Stage: StageSns, New: NewSnsWes,
			Description: "run the sns whole exome pipeline"},
		{Name: "SnsWesPairsSnv", Stage: StageSns, New: NewSnsWesPairsSnv,
			Description: "run the sns tumor/normal pairs SNV pipeline"},
		{Name: "GATKDepthOfCoverageCustom", Stage: StageAnalysis, New: NewGATKDepthOfCoverageCustom,
			Description: "GATK DepthOfCoverage with custom thresholds, one job per sample"},
		{Name: "Delly2", Stage: StageAnalysis, New: NewDelly2,
			Description: "Delly2 structural variant calling, one job per sample"},
		{Name: "HapMapVariantRef", Stage: StageAnalysis, New: NewHapMapVariantRef,
			Description: "HapMap sample variants not in the reference list"},
		{Name: "SummaryAvgCoverage", Stage: StageAnalysis, New: NewSummaryAvgCoverage,
			Description: "average coverage summary with optional annotation"},
		{Name: "DemoQsubAnalysisTask", Stage: StageAnalysis, New: NewDemoQsubAnalysisTask,
			Description: "demo: one job for the analysis"},
		{Name: "DemoQsubSampleTask", Stage: StageAnalysis, New: NewDemoQsubSampleTask,
			Description: "demo: one job per sample"},
		{Name: "DemoAnalysisSampleTask", Stage: StageAnalysis, New: NewDemoAnalysisSampleTask,
			Description: "demo: in-process per-sample output"},
	} {
		if err := r.Register(reg); err != nil {
			panic(err)
		}
	}
	return r
}
