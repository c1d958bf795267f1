//go:build integration

package integration_test

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("storm-forecast-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(stopCtx)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// loadMockRequests builds one forecast request per date in the mock
// observations file, in date order.
func loadMockRequests(t *testing.T) []domain.PredictionRequest {
	t.Helper()

	f, err := os.Open(filepath.Join("..", "..", "data", "mock", "observations.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	tables := map[string]domain.WindTable{}
	for _, row := range rows[1:] {
		dir, err := strconv.ParseFloat(row[2], 64)
		require.NoError(t, err)
		speed, err := strconv.ParseFloat(row[3], 64)
		require.NoError(t, err)
		if tables[row[0]] == nil {
			tables[row[0]] = domain.WindTable{}
		}
		tables[row[0]][domain.Region(row[1])] = domain.WindObservation{Direction: dir, Speed: speed}
	}

	dates := make([]string, 0, len(tables))
	for d := range tables {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	reqs := make([]domain.PredictionRequest, 0, len(dates))
	for _, d := range dates {
		reqs = append(reqs, domain.PredictionRequest{RequestID: "mock-" + d, Date: d, Winds: tables[d]})
	}
	return reqs
}
