package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPParser implements the Parser interface against the receipt parsing
// backend: a multipart JPEG upload that answers with the structured parse of
// the receipt.
type HTTPParser struct {
	baseURL string
	client  *http.Client
}

// NewHTTPParser creates a parser client for the backend at baseURL
func NewHTTPParser(baseURL string) (*HTTPParser, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("parser base URL is required")
	}
	return &HTTPParser{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// Wire types of the parsing backend
type parseEnvelope struct {
	Resultado parseBody `json:"resultado"`
}

type parseBody struct {
	Encabezado    parseHeader `json:"encabezado"`
	DetalleCompra []parseItem `json:"detalle_compra"`
}

type parseHeader struct {
	NombreEmpresa string `json:"nombre_empresa"`
	Fecha         string `json:"fecha"`
	Hora          string `json:"hora"`
}

type parseItem struct {
	Cantidad       int             `json:"cantidad"`
	Descripcion    string          `json:"descripcion"`
	PrecioUnitario decimal.Decimal `json:"precio_unitario"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// ParseReceipt uploads the receipt image and decodes the structured result.
// Non-JPEG input (PDF, HEIC, PNG) is converted before upload; the backend
// only accepts JPEG.
func (p *HTTPParser) ParseReceipt(ctx context.Context, imageData []byte, contentType string) (*ParseResult, error) {
	jpegData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("imagen", "receipt.jpg")
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(jpegData); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	url := fmt.Sprintf("%s/upload", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling parser backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("parser backend error (status %d): %s", resp.StatusCode, string(body))
	}

	var envelope parseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding parse result: %w", err)
	}

	result := &ParseResult{
		Merchant: envelope.Resultado.Encabezado.NombreEmpresa,
		Date:     envelope.Resultado.Encabezado.Fecha,
		Time:     envelope.Resultado.Encabezado.Hora,
	}
	for _, item := range envelope.Resultado.DetalleCompra {
		result.LineItems = append(result.LineItems, ParsedItem{
			Quantity:    item.Cantidad,
			Description: item.Descripcion,
			UnitPrice:   item.PrecioUnitario,
			Subtotal:    item.Subtotal,
		})
	}
	normalizeResult(result)
	return result, nil
}

// Close closes the parser (no-op for the HTTP client)
func (p *HTTPParser) Close() error {
	return nil
}
