package ops

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow/go/catalog"
	"github.com/sirupsen/logrus"
)

// OperationRef identifies the control-plane operation that produced a
// Log, playing the same role the teacher's ShardRef plays for a
// data-plane shard (go/ops/publish.go).
type OperationRef struct {
	CatalogName catalog.Name `json:"catalogName,omitempty"`
	TaskType    string       `json:"taskType,omitempty"`
	PubId       catalog.Id   `json:"pubId,omitempty"`
	BuildId     catalog.Id   `json:"buildId,omitempty"`
}

// Log is the canonical shape of a control-plane operations log entry.
type Log struct {
	Timestamp time.Time       `json:"ts"`
	Level     logrus.Level    `json:"level"`
	Message   string          `json:"message"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	Operation OperationRef    `json:"operation,omitempty"`
}

// Publisher of control-plane operation Logs.
type Publisher interface {
	PublishLog(Log)
	Operation() OperationRef
}

// LocalPublisher publishes ops Logs to the local process's logrus
// standard logger, carrying its OperationRef as structured fields.
type LocalPublisher struct {
	op OperationRef
}

var _ Publisher = &LocalPublisher{}

func NewLocalPublisher(op OperationRef) *LocalPublisher {
	return &LocalPublisher{op: op}
}

func (p *LocalPublisher) Operation() OperationRef { return p.op }

func (p *LocalPublisher) PublishLog(log Log) {
	var fields logrus.Fields
	if len(log.Fields) != 0 {
		if err := json.Unmarshal(log.Fields, &fields); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "fields": string(log.Fields)}).
				Error("failed to unmarshal log fields")
		}
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	if log.Operation.CatalogName != "" {
		fields["catalog_name"] = log.Operation.CatalogName
	}
	if log.Operation.TaskType != "" {
		fields["task_type"] = log.Operation.TaskType
	}
	if !log.Operation.PubId.IsZero() {
		fields["pub_id"] = log.Operation.PubId
	}
	if !log.Operation.BuildId.IsZero() {
		fields["build_id"] = log.Operation.BuildId
	}
	logrus.StandardLogger().WithFields(fields).Log(log.Level, log.Message)
}

// PublishLog constructs and publishes a Log using the given Publisher.
// Fields must be pairs of a string key followed by a JSON-encodable
// value. PublishLog panics if fields are odd-length or a key isn't a
// string, since that's a developer error rather than a user one.
func PublishLog(publisher Publisher, level logrus.Level, message string, fields ...interface{}) {
	if len(fields)%2 != 0 {
		panic(fmt.Sprintf("fields must be of even length: %#v", fields))
	}

	var m = make(map[string]interface{}, len(fields)/2)
	for i := 0; i != len(fields); i += 2 {
		var key = fields[i].(string)
		var value = fields[i+1]

		// Errors typically marshal to '{}', so stringify them explicitly.
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		m[key] = value
	}

	fieldsRaw, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}

	publisher.PublishLog(Log{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Fields:    json.RawMessage(fieldsRaw),
		Operation: publisher.Operation(),
	})
}
