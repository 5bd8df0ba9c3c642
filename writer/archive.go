package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "creditflow/config"
	"creditflow/logger"
	"creditflow/models"
)

// ParquetRecord is the archive row layout for one prediction event.
type ParquetRecord struct {
	ID         int64  `parquet:"name=id, type=INT64"`
	ClientName string `parquet:"name=client_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Score      int32  `parquet:"name=credit_score, type=INT32"`
	RiskLevel  string `parquet:"name=risk_level, type=BYTE_ARRAY, convertedtype=UTF8"`
	Decision   string `parquet:"name=decision, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; seeking is never exercised.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// ArchiveWriter batches prediction events and flushes them as parquet files
// to a local directory, optionally mirroring each file to S3.
type ArchiveWriter struct {
	config      appconfig.ArchiveConfig
	version     string
	events      <-chan models.PredictionEvent
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.PredictionEvent
	flushTicker *time.Ticker
}

// NewArchiveWriter constructs an ArchiveWriter. An S3 client is only built
// when the S3 mirror is enabled.
func NewArchiveWriter(cfg appconfig.ArchiveConfig, version string, events <-chan models.PredictionEvent) (*ArchiveWriter, error) {
	log := logger.GetLogger()

	if cfg.Directory == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	var s3Client *s3.Client
	if cfg.S3.Enabled {
		client, err := newS3Client(context.Background(), cfg.S3)
		if err != nil {
			return nil, err
		}
		s3Client = client
	}

	w := &ArchiveWriter{
		config:   cfg,
		version:  version,
		events:   events,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"directory":      cfg.Directory,
		"flush_interval": cfg.FlushInterval.String(),
		"compression":    cfg.Compression,
		"s3_enabled":     cfg.S3.Enabled,
	}).Info("archive writer initialized")

	return w, nil
}

// Start launches the consuming worker and the interval flusher.
func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archive writer")

	w.flushTicker = time.NewTicker(w.config.FlushInterval)

	w.wg.Add(1)
	go w.worker()
	w.wg.Add(1)
	go w.flushWorker()

	log.Info("archive writer started successfully")
	return nil
}

// Stop waits for the workers to drain. The flush worker performs a final
// flush on context cancellation, so pending events reach disk.
func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("archive_writer").Info("stopping archive writer")
	w.wg.Wait()
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "consume"})
	log.Info("starting archive consume worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("consume worker stopped due to context cancellation")
			return
		case event, ok := <-w.events:
			if !ok {
				log.Info("archive channel closed, worker stopping")
				return
			}
			w.mu.Lock()
			w.buffer = append(w.buffer, event)
			w.mu.Unlock()
		}
	}
}

func (w *ArchiveWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.Flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.Flush("interval")
		}
	}
}

// Flush writes all buffered events out as one parquet file. Safe to call
// concurrently with the consume worker.
func (w *ArchiveWriter) Flush(reason string) {
	w.mu.Lock()
	events := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(events) == 0 {
		return
	}

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"record_count": len(events),
		"reason":       reason,
		"operation":    "flush",
	})
	log.Info("flushing archive buffer")

	data, err := w.createParquetFile(events)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	now := time.Now().UTC()
	filename := fmt.Sprintf("predictions_%s_%s.parquet",
		now.Format("20060102150405"),
		uuid.New().String()[:8])

	path := filepath.Join(w.config.Directory, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("failed to write archive file")
		return
	}
	logger.IncrementArchiveWrite(int64(len(data)))

	log.WithFields(logger.Fields{
		"path":      path,
		"file_size": len(data),
	}).Info("archive file written")

	if w.s3Client != nil {
		key := w.generateS3Key(now, filename)
		if err := w.uploadToS3(key, data); err != nil {
			log.WithError(err).
				WithEnv("S3_BUCKET").
				WithFields(logger.Fields{"bucket": w.config.S3.Bucket, "s3_key": key}).
				Error("failed to upload archive to S3")
			return
		}
		log.WithFields(logger.Fields{"s3_key": key}).Info("archive mirrored to S3")
	}
}

func (w *ArchiveWriter) generateS3Key(ts time.Time, filename string) string {
	key := filepath.Join(
		"predictions",
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		filename,
	)
	return filepath.ToSlash(key)
}

func (w *ArchiveWriter) createParquetFile(events []models.PredictionEvent) ([]byte, error) {
	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"record_count": len(events),
		"operation":    "create_parquet_file",
	})
	log.Debug("creating parquet file")

	fw := newMemoryFileWriter()
	pw, err := parquetwriter.NewParquetWriter(fw, new(ParquetRecord), 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, event := range events {
		record := ParquetRecord{
			ID:         event.ID,
			ClientName: event.ClientName,
			Score:      int32(event.Score),
			RiskLevel:  event.RiskLevel,
			Decision:   event.Decision,
			Timestamp:  event.Timestamp.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (w *ArchiveWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        w.config.Compression,
			"creditflow-version": w.version,
		},
	}

	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.S3.Bucket, err)
	}
	return nil
}
