package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"certgen-backend/internal/models"
)

// previewMaxEdge bounds the longer edge of generated previews.
const previewMaxEdge = 640

// Rasterizer turns a rendered artifact into a reduced PNG preview. PDF
// input is rasterized through pdftoppm; image input is decoded and
// downscaled in-process.
type Rasterizer struct {
	PdftoppmPath string
}

func NewRasterizer(pdftoppmPath string) *Rasterizer {
	return &Rasterizer{PdftoppmPath: pdftoppmPath}
}

func (r *Rasterizer) RenderPreview(ctx context.Context, data []byte, mimeType string) ([]byte, string, string, error) {
	var (
		out []byte
		err error
	)
	if mimeType == "application/pdf" {
		out, err = r.rasterizePDF(ctx, data)
	} else {
		out, err = shrinkImage(data)
	}
	if err != nil {
		return nil, "", "", err
	}
	return out, "image/png", "png", nil
}

// rasterizePDF shells out to pdftoppm for the first page. The tool only
// works on files, so the artifact round-trips through a temp directory.
func (r *Rasterizer) rasterizePDF(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "certpreview-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(srcPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}

	outBase := filepath.Join(dir, "preview")
	cmd := exec.CommandContext(ctx, r.PdftoppmPath,
		"-png", "-singlefile", "-f", "1", "-l", "1", "-r", "96",
		srcPath, outBase)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (%s)", err, stderr.String())
	}

	out, err := os.ReadFile(outBase + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rasterized page: %w", err)
	}
	return shrinkImage(out)
}

// shrinkImage decodes, scales the longer edge down to previewMaxEdge and
// re-encodes as PNG. Images already small enough are only re-encoded.
func shrinkImage(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > previewMaxEdge || h > previewMaxEdge {
		scale := float64(previewMaxEdge) / float64(w)
		if h > w {
			scale = float64(previewMaxEdge) / float64(h)
		}
		dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// PreviewService produces the shared per-version preview shown in the
// template editor. Generation is idempotent: once a version has a
// preview, later calls return it without rendering.
type PreviewService struct {
	store    Store
	blobs    BlobStore
	renderer PreviewRenderer
}

func NewPreviewService(store Store, blobs BlobStore, renderer PreviewRenderer) *PreviewService {
	return &PreviewService{store: store, blobs: blobs, renderer: renderer}
}

// EnsurePreview returns a signed URL for the version's preview, rendering
// and registering one if it does not exist yet. Concurrent callers race
// on a conditional update; the loser discards its render and serves the
// winner's artifact.
func (s *PreviewService) EnsurePreview(ctx context.Context, templateID, orgID uuid.UUID) (*models.PreviewResponse, error) {
	version, sourceFile, _, err := s.store.GetLatestVersion(templateID, orgID)
	if err != nil {
		return nil, &NotFoundError{Resource: "template version", Err: err}
	}

	if version.PreviewArtifactID.Valid {
		return s.respond(version.ID, version.PreviewArtifactID.UUID)
	}

	source, err := s.blobs.Download(sourceFile.StoragePath)
	if err != nil {
		return nil, &NotFoundError{Resource: "source file", Err: err}
	}

	data, mimeType, ext, err := s.renderer.RenderPreview(ctx, source, sourceFile.MimeType)
	if err != nil {
		return nil, &PipelineError{Stage: "preview render", Err: err}
	}

	path := fmt.Sprintf("orgs/%s/templates/%s/versions/%s/preview.%s", orgID, templateID, version.ID, ext)
	if err := s.blobs.Upload(path, data, mimeType); err != nil {
		return nil, &PipelineError{Stage: "preview upload", Err: err}
	}

	artifact := &models.Artifact{
		ID:          uuid.New(),
		OrgID:       orgID,
		StoragePath: path,
		MimeType:    mimeType,
		FileSize:    int64(len(data)),
		Checksum:    checksumSHA256(data),
	}
	if err := s.store.CreateArtifact(artifact); err != nil {
		if delErr := s.blobs.Delete(path); delErr != nil {
			log.Printf("Failed to remove orphaned preview %s: %v", path, delErr)
		}
		return nil, &PipelineError{Stage: "preview registration", Err: err}
	}

	won, err := s.store.SetVersionPreview(version.ID, artifact.ID)
	if err != nil {
		return nil, &PipelineError{Stage: "preview link", Err: err}
	}
	if !won {
		// Lost the race: discard our copy and serve the existing preview.
		if delErr := s.store.DeleteArtifact(artifact.ID); delErr != nil {
			log.Printf("Failed to delete losing preview artifact %s: %v", artifact.ID, delErr)
		}
		if delErr := s.blobs.Delete(path); delErr != nil {
			log.Printf("Failed to delete losing preview blob %s: %v", path, delErr)
		}
		current, err := s.store.GetVersion(version.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload version: %w", err)
		}
		if !current.PreviewArtifactID.Valid {
			return nil, fmt.Errorf("version %s preview vanished after race", version.ID)
		}
		return s.respond(version.ID, current.PreviewArtifactID.UUID)
	}

	return s.respond(version.ID, artifact.ID)
}

func (s *PreviewService) respond(versionID, artifactID uuid.UUID) (*models.PreviewResponse, error) {
	artifact, err := s.store.GetArtifact(artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preview artifact: %w", err)
	}
	url, err := s.blobs.SignedURL(artifact.StoragePath, signedURLTTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to sign preview url: %w", err)
	}
	return &models.PreviewResponse{
		VersionID:  versionID.String(),
		ArtifactID: artifactID.String(),
		PreviewURL: url,
	}, nil
}
