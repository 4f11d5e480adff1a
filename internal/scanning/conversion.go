package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// receiptParsePrompt is the shared prompt used by LLM-backed parsers
const receiptParsePrompt = `You are analyzing a purchase receipt. Carefully read all text in the image and extract the following information:

1. **Merchant**: the store or business name, usually the largest text at the top of the receipt.

2. **Date and time**: the transaction date and time printed on the receipt, exactly as printed.

3. **Line items**: every purchased product line, with its quantity, description, unit price and line subtotal.

Return ONLY valid JSON in this exact format:
{
  "merchant": "Store Name",
  "date": "as printed",
  "time": "as printed",
  "line_items": [
    {"quantity": 1, "description": "item name", "unit_price": 0.00, "subtotal": 0.00}
  ]
}

Important:
- quantity must be an integer; unit_price and subtotal must be numbers
- subtotal is quantity times unit_price for that line
- include every product line, in the order printed
- if you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as a JPEG; most receipts are
// single page.
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodeJPEG(img)
}

// imageToJPEG converts any supported image format to JPEG
func imageToJPEG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on iPhones) is not covered by the standard image
	// package, so it gets its own decoder.
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks the leading bytes for a HEIC/HEIF ftyp box
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData converts the uploaded document to JPEG, the only format
// the parsing backends accept. JPEG input passes through untouched.
func prepareImageData(imageData []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	switch {
	case mimeType == "application/pdf":
		jpegData, err := pdfToImage(imageData)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return jpegData, nil
	case mimeType != "image/jpeg" || isHEICFormat(imageData):
		jpegData, err := imageToJPEG(imageData, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to JPEG: %w", err)
		}
		return jpegData, nil
	}
	return imageData, nil
}
