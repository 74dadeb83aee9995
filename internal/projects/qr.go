package projects

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

const (
	qrSize       = 512
	dataURLPNG   = "data:image/png;base64,"
	qrStorageKey = "qr/%s.png"
)

var (
	ErrQRForbidden      = apperr.Forbidden("You can only view QR codes for your own assignments")
	ErrQRAssignmentGone = apperr.NotFound("Assignment not found")

	qrForeground = color.RGBA{R: 0x00, G: 0x2E, B: 0x59, A: 0xFF}
)

// QRCode is the rendered form link of one assignment.
type QRCode struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	FormURL      string    `json:"form_url"`
	FullURL      string    `json:"full_url"`
	DataURL      string    `json:"qr_code_data"`
	ImageURL     string    `json:"qr_code_url,omitempty"`
}

// QRCode returns the QR code for an assignment, rendering it on first use.
// Only admins and the assigned salesperson may see it.
func (s *Service) QRCode(ctx context.Context, assignmentID, viewerID uuid.UUID, viewerIsAdmin bool) (*QRCode, error) {
	var assignment models.ProjectAssignment
	err := s.db.WithContext(ctx).First(&assignment, "id = ?", assignmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQRAssignmentGone
	}
	if err != nil {
		return nil, fmt.Errorf("loading assignment: %w", err)
	}
	if !viewerIsAdmin && assignment.SalespersonID != viewerID {
		return nil, ErrQRForbidden
	}

	qr := &QRCode{
		AssignmentID: assignment.ID,
		FormURL:      assignment.FormURL,
		FullURL:      s.baseURL + assignment.FormURL,
		DataURL:      assignment.QRCodeData,
		ImageURL:     assignment.QRCodeURL,
	}
	if qr.DataURL != "" {
		return qr, nil
	}

	png, err := renderQR(qr.FullURL)
	if err != nil {
		return nil, err
	}
	qr.DataURL = dataURLPNG + base64.StdEncoding.EncodeToString(png)

	updates := map[string]interface{}{"qr_code_data": qr.DataURL}
	if s.store != nil {
		url, err := s.store.Put(ctx, fmt.Sprintf(qrStorageKey, assignment.ID), "image/png", png)
		if err != nil {
			s.logger.Warn("failed to upload qr code", "assignment_id", assignment.ID, "error", err)
		} else {
			qr.ImageURL = url
			updates["qr_code_url"] = url
		}
	}

	// Another request may have rendered it first; either copy is equivalent.
	if err := s.db.WithContext(ctx).Model(&models.ProjectAssignment{}).
		Where("id = ? AND (qr_code_data IS NULL OR qr_code_data = '')", assignment.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("saving qr code: %w", err)
	}
	return qr, nil
}

// QRCodePNG returns the raw PNG bytes for download.
func (s *Service) QRCodePNG(ctx context.Context, assignmentID, viewerID uuid.UUID, viewerIsAdmin bool) ([]byte, error) {
	qr, err := s.QRCode(ctx, assignmentID, viewerID, viewerIsAdmin)
	if err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(qr.DataURL, dataURLPNG))
	if err != nil {
		return nil, fmt.Errorf("decoding qr code: %w", err)
	}
	return png, nil
}

func renderQR(content string) ([]byte, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	code.ForegroundColor = qrForeground
	png, err := code.PNG(qrSize)
	if err != nil {
		return nil, fmt.Errorf("rendering qr code: %w", err)
	}
	return png, nil
}
