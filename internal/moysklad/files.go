package moysklad

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"go.uber.org/zap"
)

// AttachFile uploads data as an attachment of an entity document
// (paymentin, cashin, customerorder). Attachments land in the document's
// "Файлы" section.
func (c *Client) AttachFile(ctx context.Context, entity, docID, filename string, data []byte) error {
	if entity == "" || docID == "" || len(data) == 0 {
		return fmt.Errorf("moysklad: attach file: missing entity, id or data")
	}
	path := fmt.Sprintf("/entity/%s/%s/files", entity, docID)
	return c.uploadMultipart(ctx, path, "file", filename, data)
}

// AttachProductImage uploads an image into a product card's "Изображения"
// section. Some accounts expect the multipart field to be named "image"
// instead of "file"; the second form is tried when the first is rejected.
func (c *Client) AttachProductImage(ctx context.Context, productID, filename string, data []byte) error {
	if productID == "" || len(data) == 0 {
		return fmt.Errorf("moysklad: attach image: missing product id or data")
	}
	path := fmt.Sprintf("/entity/product/%s/images", productID)

	err := c.uploadMultipart(ctx, path, "file", filename, data)
	if err == nil {
		return nil
	}
	c.logger.Warn("product image upload with field 'file' failed, retrying with 'image'",
		zap.String("product_id", productID), zap.Error(err))
	return c.uploadMultipart(ctx, path, "image", filename, data)
}

func (c *Client) uploadMultipart(ctx context.Context, path, field, filename string, data []byte) error {
	if c.token == "" {
		return fmt.Errorf("moysklad: MOYSKLAD_TOKEN is not set")
	}
	if filename == "" {
		filename = "attachment.bin"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("moysklad: create multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("moysklad: write multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("moysklad: close multipart: %w", err)
	}

	reqURL := c.url(path, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return fmt.Errorf("moysklad: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json;charset=utf-8")
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("moysklad: upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, URL: reqURL, Body: truncate(string(body), 2000)}
	}
	return nil
}
