package bus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicWorkflowEvents(workflowID string) string {
	return fmt.Sprintf("events.workflow.%s", workflowID)
}

func TopicTaskEvents(workflowID string) string {
	return fmt.Sprintf("events.workflow.%s.tasks", workflowID)
}

func TopicAgentMailbox(agentName string) string {
	return fmt.Sprintf("mailbox.%s", agentName)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsWorkflows = "events.workflow.*"
)
