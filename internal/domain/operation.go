package domain

import "fmt"

// Operation is the state change requested by a queue event.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationBlock  Operation = "block"
)

// ParseOperation validates raw against the supported operations.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(raw)
	switch op {
	case OperationCreate, OperationUpdate, OperationBlock:
		return op, nil
	default:
		return "", fmt.Errorf("unsupported operation %q", raw)
	}
}

func (o Operation) String() string {
	return string(o)
}
