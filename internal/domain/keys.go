package domain

import (
	"fmt"
)

// Storage key layout. Prefix scans rely on these shapes; change them in
// one place only.

func WorkflowKey(id string) string { return "workflow:def:" + id }

const WorkflowPrefix = "workflow:def:"

func StateCurrentKey(executionID string) string {
	return "state:current:" + executionID
}

func StateHistoryKey(executionID string, version int64) string {
	return fmt.Sprintf("state:history:%s:%020d", executionID, version)
}

func StateHistoryPrefix(executionID string) string {
	return "state:history:" + executionID + ":"
}

func ExecutionKey(id string) string { return "execution:rec:" + id }

const ExecutionPrefix = "execution:rec:"

func NodeExecutionKey(executionID, nodeID string) string {
	return fmt.Sprintf("execution:node:%s:%s", executionID, nodeID)
}

func NodeExecutionPrefix(executionID string) string {
	return "execution:node:" + executionID + ":"
}

func MetricKey(executionID, name string, unixNano int64) string {
	return fmt.Sprintf("metric:%s:%s:%d", executionID, name, unixNano)
}

func MetricPrefix(executionID string) string {
	return "metric:" + executionID + ":"
}

func TemplateKey(id string) string { return "template:" + id }

const TemplatePrefix = "template:"
