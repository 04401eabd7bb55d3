// Package acquire turns a video id into a durably hosted audio file:
// yt-dlp pulls the audio, catbox.moe hosts it. This is the expensive
// step of the pipeline; a single acquisition can run for minutes.
package acquire

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
)

// Acquirer is the acquisition provider the pipeline depends on.
type Acquirer interface {
	// Acquire downloads and durably hosts the audio for videoID,
	// returning the hosted URL. There are no partial successes.
	Acquire(ctx context.Context, videoID string) (string, error)
}

const watchURLTemplate = "https://www.youtube.com/watch?v=%s"

// Catbox downloads audio with yt-dlp and uploads it to catbox.moe.
type Catbox struct {
	dir       string
	uploadURL string
	client    *http.Client
	timeout   time.Duration
}

func NewCatbox(dir string, timeout time.Duration) *Catbox {
	return &Catbox{
		dir:       dir,
		uploadURL: "https://catbox.moe/user/api.php",
		// No client timeout: uploads of large files are bounded by the
		// request context instead.
		client:  &http.Client{},
		timeout: timeout,
	}
}

// SetUploadURL overrides the hosting endpoint. Used in tests.
func (c *Catbox) SetUploadURL(u string) { c.uploadURL = u }

func (c *Catbox) Acquire(ctx context.Context, videoID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	base := filepath.Join(c.dir, uuid.NewString())
	dest := base + ".mp3"

	dl := ytdlp.New().
		NoPlaylist().
		ExtractAudio().
		AudioFormat("mp3").
		ForceOverwrites().
		RestrictFilenames().
		Output(base + ".%(ext)s")

	if _, err := dl.Run(ctx, fmt.Sprintf(watchURLTemplate, videoID)); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("download %s: %w", videoID, err)
	}
	defer os.Remove(dest)

	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("downloaded audio for %s missing: %w", videoID, err)
	}

	link, err := c.upload(ctx, dest)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", videoID, err)
	}
	return link, nil
}

// upload posts the file to catbox and returns the hosted URL, which
// catbox reports as the plain-text response body.
func (c *Catbox) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if err := mw.WriteField("reqtype", "fileupload"); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := mw.CreateFormFile("fileToUpload", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hosting responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	link := strings.TrimSpace(string(body))
	if !strings.HasPrefix(link, "http") {
		return "", fmt.Errorf("hosting returned unexpected body: %s", link)
	}
	return link, nil
}

// Install fetches the yt-dlp binary if it is not already present.
// Called once at startup when enabled in config.
func Install(ctx context.Context) error {
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return fmt.Errorf("install yt-dlp: %w", err)
	}
	return nil
}
