package storage

import "lpManager/internal/model"

// Storage defines a sink for completed position operations.
type Storage interface {
	PutOperationBatch(ops []model.OperationRecord) error
}
