package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream      int64
	errorsSnapshot    int64
	warnsStream       int64
	warnsSnapshot     int64
	eventsApplied     int64
	streamReconnects  int64
	snapshotRefreshes int64
	archiveWrites     int64
	malformedMessages int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "snapshot") || strings.Contains(component, "loader") {
		atomic.AddInt64(&warnsSnapshot, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "snapshot") || strings.Contains(component, "loader") {
		atomic.AddInt64(&errorsSnapshot, 1)
	}
}

func IncrementEventApplied(size int) {
	atomic.AddInt64(&eventsApplied, 1)
	recordChannel("prediction_events", size)
}

func IncrementStreamReconnect() {
	atomic.AddInt64(&streamReconnects, 1)
}

func IncrementSnapshotRefresh() {
	atomic.AddInt64(&snapshotRefreshes, 1)
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_write", int(size))
}

func IncrementMalformedMessage() {
	atomic.AddInt64(&malformedMessages, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	fields := Fields{
		"errors_stream":      atomic.LoadInt64(&errorsStream),
		"errors_snapshot":    atomic.LoadInt64(&errorsSnapshot),
		"warns_stream":       atomic.LoadInt64(&warnsStream),
		"warns_snapshot":     atomic.LoadInt64(&warnsSnapshot),
		"events_applied":     atomic.LoadInt64(&eventsApplied),
		"stream_reconnects":  atomic.LoadInt64(&streamReconnects),
		"snapshot_refreshes": atomic.LoadInt64(&snapshotRefreshes),
		"archive_writes":     atomic.LoadInt64(&archiveWrites),
		"malformed_messages": atomic.LoadInt64(&malformedMessages),
		"goroutines":         runtime.NumGoroutine(),
		"channels":           channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("EventsApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["events_applied"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamReconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SnapshotRefreshes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["snapshot_refreshes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MalformedMessages"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["malformed_messages"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsSnapshot"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_snapshot"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsSnapshot"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_snapshot"].(int64)))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
