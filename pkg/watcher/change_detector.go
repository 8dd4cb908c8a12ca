package watcher

// ChangeAnalysis describes what changed and what has to be redone
type ChangeAnalysis struct {
	NeedConfigReload bool
	NeedDatasetLoad  bool
	ChangedFiles     []string
}

// AnalyzeChanges merges a batch of debounced events into one decision. Any
// change triggers a re-run; a config change also reloads settings first.
func AnalyzeChanges(events ...ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{}
	for _, event := range events {
		analysis.ChangedFiles = append(analysis.ChangedFiles, event.Paths...)
		switch event.Type {
		case ChangeTypeConfig:
			analysis.NeedConfigReload = true
			analysis.NeedDatasetLoad = true
		case ChangeTypeDataset:
			analysis.NeedDatasetLoad = true
		}
	}
	return analysis
}
