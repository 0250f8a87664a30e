package metrics

/*
Labels and so on for metrics used in deployhub.
*/

const (
	LabelMethod    = "method"
	LabelRoute     = "route"
	LabelNamespace = "namespace"
	LabelSuccess   = "success"

	// Labels for reconcile metrics
	LabelKind   = "kind"
	LabelAction = "action"
)
