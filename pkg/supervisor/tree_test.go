package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/recsync/pkg/logging"
)

type countingService struct {
	starts atomic.Int32
	failN  int32
}

func (s *countingService) Serve(ctx context.Context) error {
	if n := s.starts.Add(1); n <= s.failN {
		return errors.New("transient failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestNewTree_Defaults(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.config)
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	svc := &countingService{failN: 2}
	tree.AddPipelineService(Named{Name: "flaky", Service: svc})
	api := &countingService{}
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.starts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, api.starts.Load(), int32(1), "other layer is not restarted")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	report, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestNamed_String(t *testing.T) {
	assert.Equal(t, "http-server", Named{Name: "http-server"}.String())
}
