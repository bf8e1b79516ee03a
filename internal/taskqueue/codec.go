package taskqueue

import "github.com/petrijr/strata/internal/codec"

// EncodeTask serializes a Task for durable queues.
func EncodeTask(t Task) ([]byte, error) {
	return codec.Marshal(t)
}

// DecodeTask reverses EncodeTask.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := codec.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
