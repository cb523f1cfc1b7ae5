package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
)

type appendPublisher struct {
	op   OperationRef
	logs []Log
}

var _ Publisher = &appendPublisher{}

func (p *appendPublisher) Operation() OperationRef { return p.op }
func (p *appendPublisher) PublishLog(log Log)      { p.logs = append(p.logs, log) }

func TestLogPublishing(t *testing.T) {
	var publisher = &appendPublisher{op: OperationRef{CatalogName: "acmeCo/orders", PubId: catalog.Id(1)}}

	PublishLog(publisher, logrus.InfoLevel,
		"the log message",
		"an-int", 42,
		"a-str", "the string",
		"error", fmt.Errorf("failed to commit: %w",
			fmt.Errorf("optimistic lock mismatch")),
		"cancelled", context.Canceled,
	)

	require.Len(t, publisher.logs, 1)
	var log = publisher.logs[0]
	require.Equal(t, "the log message", log.Message)
	require.Equal(t, logrus.InfoLevel, log.Level)
	require.Equal(t, OperationRef{CatalogName: "acmeCo/orders", PubId: catalog.Id(1)}, log.Operation)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(log.Fields, &fields))
	require.Equal(t, float64(42), fields["an-int"])
	require.Equal(t, "the string", fields["a-str"])
	require.Equal(t, "failed to commit: optimistic lock mismatch", fields["error"])
	require.Equal(t, "context canceled", fields["cancelled"])
}

func TestPublishLogRejectsOddFields(t *testing.T) {
	require.Panics(t, func() {
		PublishLog(&appendPublisher{}, logrus.InfoLevel, "message", "unpaired")
	})
}

func TestLogCollectionNaming(t *testing.T) {
	require.Equal(t, catalog.Name("ops/acmeCo/logs"), LogCollection("acmeCo/source-http"))
	require.Equal(t, catalog.Name("ops/acmeCo/stats"), StatsCollection("acmeCo/materialize-postgres"))
}
