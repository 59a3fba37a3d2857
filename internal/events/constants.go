package events

const (
	StreamName = "DEPLOYER"

	// SubjectAll matches every subject below.
	SubjectAll = "deployer.>"

	ToolExecStartEventName  = "deployer.tool.exec.start"
	ToolExecFinishEventName = "deployer.tool.exec.finish"

	ActionQueuedEventName   = "deployer.action.queued"
	ActionApprovedEventName = "deployer.action.approved"
	ActionRejectedEventName = "deployer.action.rejected"
	ActionExpiredEventName  = "deployer.action.expired"

	RunCancelledEventName = "deployer.run.cancelled"
)
