package telemetry

import (
	"errors"
	"testing"
	"time"

	"chanmirror/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	if Messages == nil || RunActive == nil {
		t.Fatal("metrics not registered")
	}
}

func TestCountMessage(t *testing.T) {
	Init()
	before := testutil.ToFloat64(Messages.WithLabelValues("delivered"))
	CountMessage("delivered")
	if got := testutil.ToFloat64(Messages.WithLabelValues("delivered")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

func TestObserveDownloadClassifies(t *testing.T) {
	Init()
	tooLarge := &domain.DownloadError{Reason: domain.ReasonTooLarge, Err: domain.ErrTooLarge}
	timeout := &domain.DownloadError{Reason: domain.ReasonTimeout, Err: errors.New("deadline")}

	skipped := testutil.ToFloat64(MediaItems.WithLabelValues("skipped"))
	timedOut := testutil.ToFloat64(MediaItems.WithLabelValues("failed_timeout"))

	ObserveDownload(time.Millisecond, tooLarge)
	ObserveDownload(time.Millisecond, timeout)

	if got := testutil.ToFloat64(MediaItems.WithLabelValues("skipped")); got != skipped+1 {
		t.Fatalf("too-large should count as skipped, got %v", got)
	}
	if got := testutil.ToFloat64(MediaItems.WithLabelValues("failed_timeout")); got != timedOut+1 {
		t.Fatalf("timeout should count as failed_timeout, got %v", got)
	}
}

func TestHelpersNilSafe(t *testing.T) {
	Inc(nil)
	SetGauge(nil, 1)
	AddGauge(nil, 1)
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Fatal("negative duration")
	}
}
