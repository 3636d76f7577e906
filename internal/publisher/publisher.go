// Package publisher pushes a directory of images to the broker, one base64
// message per file on <prefix>/<filename>.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/normalize"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/topic"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
)

const DefaultTopicPrefix = "solace/images"

var (
	ErrNoImages      = errors.New("no images found")
	ErrConnectFailed = errors.New("publisher could not connect")
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// Image is one encoded file.
type Image struct {
	Path        string
	Name        string
	ContentType string
	Encoded     string
	// Warning is set when the encoding lacks the signature its extension
	// promises.
	Warning string
}

// FindImages lists image files in dir, sorted by name. Extensions match
// case-insensitively.
func FindImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read images directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}
	sort.Strings(files)
	return files, nil
}

func Encode(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image %s: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	image := Image{
		Path:        path,
		Name:        filepath.Base(path),
		ContentType: imageExtensions[ext],
		Encoded:     normalize.EncodeChunked(data, normalize.ChunkSize),
	}
	switch ext {
	case ".jpg", ".jpeg":
		if !strings.HasPrefix(image.Encoded, normalize.JPEGSignature) {
			image.Warning = fmt.Sprintf("JPEG image %s does not have expected base64 prefix", path)
		}
	case ".png":
		if !strings.HasPrefix(image.Encoded, normalize.PNGSignature) {
			image.Warning = fmt.Sprintf("PNG image %s does not have expected base64 prefix", path)
		}
	}
	return image, nil
}

type Publisher struct {
	session  transport.Session
	prefix   string
	interval time.Duration
}

// New publishes through session. interval is the pause between two images.
func New(session transport.Session, prefix string, interval time.Duration) *Publisher {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{session: session, prefix: prefix, interval: interval}
}

// Summary counts the outcome of one PublishDir run.
type Summary struct {
	Published int
	Skipped   int
}

// PublishDir publishes every image in dir. Unreadable files and file names
// that are not valid topic levels are skipped; a publish failure stops the
// run.
func (p *Publisher) PublishDir(ctx context.Context, dir string) (Summary, error) {
	var summary Summary
	files, err := FindImages(dir)
	if err != nil {
		return summary, err
	}

	for i, path := range files {
		if i > 0 && p.interval > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(p.interval):
			}
		}

		image, err := Encode(path)
		if err != nil {
			logger.ErrorF("Error reading image %s: %v", path, err)
			summary.Skipped++
			continue
		}
		if image.Warning != "" {
			logger.Warn(image.Warning)
		}
		logger.DebugF("Encoded %s - Size: %d chars", path, len(image.Encoded))

		name := topic.Join(p.prefix, image.Name)
		if err := topic.ValidateName(name); err != nil {
			logger.WarnF("Skip %s, details: %v", image.Name, err)
			summary.Skipped++
			continue
		}
		if err := p.session.Publish(ctx, name, []byte(image.Encoded)); err != nil {
			return summary, fmt.Errorf("publish %s: %w", image.Name, err)
		}
		logger.InfoF("Published image %s on %s", image.Name, name)
		summary.Published++
	}
	return summary, nil
}

// Connect opens a session and waits until it is up. Events after that are
// logged until the session ends.
func Connect(ctx context.Context, factory transport.Factory, opts transport.Options) (transport.Session, error) {
	session, err := factory.Open(opts)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			_ = session.Close(context.Background())
			return nil, ctx.Err()
		case ev, ok := <-session.Events():
			if !ok {
				return nil, fmt.Errorf("%w: %w", ErrConnectFailed, transport.ErrSessionClosed)
			}
			switch e := ev.(type) {
			case transport.UpEvent:
				go logEvents(session)
				return session, nil
			case transport.ConnectFailedEvent:
				_ = session.Close(ctx)
				return nil, fmt.Errorf("%w: %w", ErrConnectFailed, e.Err)
			}
		}
	}
}

func logEvents(session transport.Session) {
	for ev := range session.Events() {
		switch e := ev.(type) {
		case transport.ReconnectingEvent:
			logger.WarnF("Publisher reconnecting, attempt %d, details: %v", e.Attempt, e.Err)
		case transport.ReconnectedEvent:
			logger.InfoF("Publisher reconnected")
		case transport.DisconnectedEvent:
			logger.ErrorF("Publisher disconnected, details: %v", e.Err)
		}
	}
}
