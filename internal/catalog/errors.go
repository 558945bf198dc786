package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidSetting = errors.New("invalid setting")
)

// StorageFault reports that the persistence medium could not complete an operation.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error {
	return e.Err
}

func IsStorageFault(err error) bool {
	var sf *StorageFault
	return errors.As(err, &sf)
}

func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || IsStorageFault(err) {
		return err
	}
	return &StorageFault{Op: op, Err: err}
}
