// Package cloudinary hosts payment QR images so clients receive a URL instead of an
// inline base64 blob.
package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Config holds Cloudinary credentials (from env or config).
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Uploader is the part of *uploader.API the host needs.
type Uploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// QR codes are small and must stay scannable, so no lossy quality transform.
const qrEager = "f_png,w_512,h_512,c_pad"

var eagerAsyncFalse = false

// BuildImageURL returns the delivery URL for a public ID.
func BuildImageURL(cloudName, publicID string) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/%s", cloudName, publicID)
}

type QRHost struct {
	cloudName string
	folder    string
	uploader  Uploader
}

func NewQRHost(cloudName, folder string, up Uploader) *QRHost {
	return &QRHost{cloudName: cloudName, folder: folder, uploader: up}
}

// NewQRHostFromConfig builds a host from Cloudinary cloud name, API key, and secret.
func NewQRHostFromConfig(c Config) (*QRHost, error) {
	cfg, err := config.NewFromParams(c.CloudName, c.APIKey, c.APISecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return NewQRHost(c.CloudName, c.Folder, up), nil
}

// HostQR uploads the PNG (raw base64 or a data URI) under the order id and returns its
// secure URL. Re-hosting an order replaces the previous image.
func (h *QRHost) HostQR(ctx context.Context, orderID, pngBase64 string) (string, error) {
	if pngBase64 == "" {
		return "", errors.New("cloudinary: empty qr image")
	}
	file := pngBase64
	if !strings.HasPrefix(file, "data:") {
		file = "data:image/png;base64," + file
	}
	result, err := h.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:     h.folder,
		PublicID:   orderID,
		Eager:      qrEager,
		EagerAsync: &eagerAsyncFalse,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload qr for %s: %w", orderID, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload qr for %s: %s", orderID, result.Error.Message)
	}
	if len(result.Eager) > 0 && result.Eager[0].SecureURL != "" {
		return result.Eager[0].SecureURL, nil
	}
	if result.SecureURL != "" {
		return result.SecureURL, nil
	}
	return BuildImageURL(h.cloudName, result.PublicID), nil
}
