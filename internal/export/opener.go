package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/pkg/errors"
)

// StdStream is the uri addressing stdin for inputs and stdout for outputs
const StdStream = "-"

// Opener resolves input and output uris: "-", s3://bucket/key or a local
// path. Paths ending in .gz are transparently (de)compressed.
type Opener struct {
	config *S3Config
	logger *logrus.Logger

	mu         sync.Mutex
	uploader   uploader
	downloader downloader
}

// NewOpener creates a new opener. The S3 session is only created when an
// s3:// uri is first used.
func NewOpener(config *S3Config, logger *logrus.Logger) *Opener {
	if config == nil {
		config = &S3Config{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Opener{config: config, logger: logger}
}

// Create opens uri for writing. The upload of an s3:// object completes
// when the returned writer is closed.
func (o *Opener) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	var (
		w   io.WriteCloser
		err error
	)

	switch {
	case uri == StdStream:
		w = nopWriteCloser{os.Stdout}
	case IsS3URI(uri):
		w, err = o.createS3(ctx, uri)
	default:
		w, err = createFile(uri)
	}
	if err != nil {
		return nil, err
	}

	o.logger.WithField("destination", uri).Debug("Opened output destination")

	if isGzip(uri) {
		return &gzipWriter{gz: gzip.NewWriter(w), dst: w}, nil
	}
	return w, nil
}

// Open opens uri for reading
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	var (
		r   io.ReadCloser
		err error
	)

	switch {
	case uri == StdStream:
		r = io.NopCloser(os.Stdin)
	case IsS3URI(uri):
		r, err = o.openS3(ctx, uri)
	default:
		r, err = os.Open(uri)
		if err != nil {
			err = errors.NewIOError(errors.CodeReadFailed, "failed to open input", errors.ErrInputRead).WithDetails(err.Error())
		}
	}
	if err != nil {
		return nil, err
	}

	o.logger.WithField("source", uri).Debug("Opened input")

	if isGzip(uri) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			r.Close()
			return nil, errors.NewIOError(errors.CodeReadFailed, "failed to decompress input", err)
		}
		return &gzipReader{gz: gz, src: r}, nil
	}
	return r, nil
}

// Abort discards an output whose content is incomplete. A pending S3 upload
// fails with cause instead of completing with a truncated object.
func Abort(w io.WriteCloser, cause error) {
	if a, ok := w.(interface{ Abort(error) }); ok {
		a.Abort(cause)
		return
	}
	w.Close()
}

func (o *Opener) createS3(ctx context.Context, uri string) (io.WriteCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	up, err := o.getUploader()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	input := &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if o.config.StorageClass != "" {
		input.StorageClass = aws.String(o.config.StorageClass)
	}

	w := &s3Writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := up.UploadWithContext(ctx, input)
		pr.CloseWithError(err)
		w.done <- err
	}()

	o.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
	}).Info("Uploading output to S3")
	return w, nil
}

func (o *Opener) openS3(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	down, err := o.getDownloader()
	if err != nil {
		return nil, err
	}

	buf := aws.NewWriteAtBuffer(nil)
	n, err := down.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.NewIOError(errors.CodeReadFailed, "failed to download input from S3", err).WithDetails(uri)
	}

	o.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"bytes":  n,
	}).Info("Downloaded input from S3")
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (o *Opener) getUploader() (uploader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.uploader == nil {
		sess, err := newSession(o.config)
		if err != nil {
			return nil, err
		}
		u := s3manager.NewUploader(sess)
		if o.config.PartSize > 0 {
			u.PartSize = o.config.PartSize
		}
		o.uploader = u
	}
	return o.uploader, nil
}

func (o *Opener) getDownloader() (downloader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.downloader == nil {
		sess, err := newSession(o.config)
		if err != nil {
			return nil, err
		}
		o.downloader = s3manager.NewDownloader(sess)
	}
	return o.downloader, nil
}

func createFile(path string) (io.WriteCloser, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewIOError(errors.CodeCreateFailed, "failed to create output directory", errors.ErrOutputCreate).
			WithDetails(err.Error())
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, errors.NewIOError(errors.CodeCreateFailed, "failed to create output file", errors.ErrOutputCreate).
			WithDetails(err.Error())
	}
	return file, nil
}

func isGzip(uri string) bool {
	return strings.EqualFold(filepath.Ext(uri), ".gz")
}

// s3Writer streams writes into a running upload
type s3Writer struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	w.pw.Close()
	if err := <-w.done; err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to upload output to S3", errors.ErrOutputWrite).
			WithDetails(err.Error())
	}
	return nil
}

// Abort fails the upload and waits for it to stop
func (w *s3Writer) Abort(cause error) {
	w.pw.CloseWithError(cause)
	<-w.done
}

type gzipWriter struct {
	gz  *gzip.Writer
	dst io.WriteCloser
}

func (w *gzipWriter) Write(p []byte) (int, error) {
	return w.gz.Write(p)
}

func (w *gzipWriter) Close() error {
	if err := w.gz.Close(); err != nil {
		w.dst.Close()
		return errors.NewIOError(errors.CodeWriteFailed, "failed to flush compressed output", err)
	}
	return w.dst.Close()
}

// Abort drops the unflushed compressed tail along with the destination
func (w *gzipWriter) Abort(cause error) {
	Abort(w.dst, cause)
}

type gzipReader struct {
	gz  *gzip.Reader
	src io.ReadCloser
}

func (r *gzipReader) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *gzipReader) Close() error {
	r.gz.Close()
	return r.src.Close()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
