package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/pkg/keys"
)

var (
	ErrNotXML   = errors.New("primary artifact is not an xml document")
	ErrNoKey    = errors.New("primary artifact carries no access key")
	ErrNotPDF   = errors.New("secondary artifact is not a pdf")
	ErrEmptyPDF = errors.New("secondary artifact has no pages")
)

var pdfHeader = []byte("%PDF-")

// infNFePrefix precedes the access key in the infNFe Id attribute.
const infNFePrefix = "nfe"

// Summary holds the few invoice fields worth showing next to a download.
type Summary struct {
	Key      string
	Issuer   string
	IssuedAt string
	Total    float64
}

type Inspector struct {
	conf *model.Configuration
}

func NewInspector() *Inspector {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Inspector{conf: conf}
}

// InspectPrimary checks that the XML names the key it was fetched for.
func (i *Inspector) InspectPrimary(key models.DocumentKey, data []byte) error {
	summary, err := Summarize(data)
	if err != nil {
		return err
	}
	if summary.Key != key.String() {
		return fmt.Errorf("primary artifact belongs to key %s", summary.Key)
	}
	return nil
}

// InspectSecondary checks that the bytes are a readable PDF with pages.
func (i *Inspector) InspectSecondary(key models.DocumentKey, data []byte) error {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfHeader) {
		return ErrNotPDF
	}
	pages, err := api.PageCount(bytes.NewReader(data), i.conf)
	if err != nil {
		return fmt.Errorf("secondary artifact for %s is unreadable: %w", key, err)
	}
	if pages == 0 {
		return ErrEmptyPDF
	}
	return nil
}

// Summarize extracts the access key, issuer name, issue date and total from
// an NF-e document.
func Summarize(data []byte) (Summary, error) {
	if !bytes.Contains(data, []byte("<")) {
		return Summary{}, ErrNotXML
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrNotXML, err)
	}

	// The html parser lowercases element and attribute names.
	var summary Summary
	summary.Key = strings.TrimSpace(doc.Find("chnfe").First().Text())
	if summary.Key == "" {
		if id, ok := doc.Find("infnfe").First().Attr("id"); ok {
			id = strings.TrimSpace(id)
			if strings.HasPrefix(strings.ToLower(id), infNFePrefix) && len(id) == len(infNFePrefix)+keys.Length {
				summary.Key = id[len(infNFePrefix):]
			}
		}
	}
	if summary.Key == "" {
		return Summary{}, ErrNoKey
	}

	summary.Issuer = strings.TrimSpace(doc.Find("emit xnome").First().Text())
	summary.IssuedAt = strings.TrimSpace(doc.Find("ide dhemi").First().Text())
	if summary.IssuedAt == "" {
		summary.IssuedAt = strings.TrimSpace(doc.Find("ide demi").First().Text())
	}
	if raw := strings.TrimSpace(doc.Find("icmstot vnf").First().Text()); raw != "" {
		if total, err := strconv.ParseFloat(raw, 64); err == nil {
			summary.Total = total
		}
	}
	return summary, nil
}
