package trigger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ammar0144/recsync/pkg/errs"
)

// Content types of dataset-ready messages
const (
	HeaderContentType  = "content-type"
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/x-msgpack"
)

// ErrInvalidMessage is returned for a message that cannot start a job
var ErrInvalidMessage = fmt.Errorf("invalid dataset message: %w", errs.ErrDataFormat)

// DatasetReady announces a dataset file that is ready for processing
type DatasetReady struct {
	Path  string `json:"path" msgpack:"path"`
	JobID string `json:"job_id,omitempty" msgpack:"job_id,omitempty"`
	TopN  int    `json:"top_n,omitempty" msgpack:"top_n,omitempty"`
}

// Validate checks that the message names a dataset
func (m DatasetReady) Validate() error {
	if strings.TrimSpace(m.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidMessage)
	}
	if m.TopN < 0 {
		return fmt.Errorf("%w: top_n must not be negative", ErrInvalidMessage)
	}
	return nil
}

// Decode reads a message value. The content-type header selects msgpack;
// anything else is read as JSON.
func Decode(value []byte, headers []kafka.Header) (DatasetReady, error) {
	var m DatasetReady
	var err error
	switch contentType(headers) {
	case ContentTypeMsgpack:
		err = msgpack.Unmarshal(value, &m)
	default:
		err = json.Unmarshal(value, &m)
	}
	if err != nil {
		return DatasetReady{}, errors.Join(ErrInvalidMessage, err)
	}
	return m, m.Validate()
}

// Encode builds the value and headers of a message in the given content type
func Encode(m DatasetReady, ct string) ([]byte, []kafka.Header, error) {
	var value []byte
	var err error
	switch ct {
	case ContentTypeMsgpack:
		value, err = msgpack.Marshal(m)
	case ContentTypeJSON:
		value, err = json.Marshal(m)
	default:
		return nil, nil, fmt.Errorf("unsupported content type %q", ct)
	}
	if err != nil {
		return nil, nil, err
	}
	return value, []kafka.Header{{Key: HeaderContentType, Value: []byte(ct)}}, nil
}

func contentType(headers []kafka.Header) string {
	for _, h := range headers {
		if strings.EqualFold(h.Key, HeaderContentType) {
			return strings.ToLower(strings.TrimSpace(string(h.Value)))
		}
	}
	return ContentTypeJSON
}
