package main

import (
	"context"
	"image"
	"time"

	mrtdDoc "go-mrz-scanner/document"
	"go-mrz-scanner/models"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/scanner"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/gmrtd/gmrtd/document"
)

// abstract interfaces for easier testing

type FrameScanner interface {
	ScanFrame(ctx context.Context, frame image.Image) (*scanner.ScanResult, error)
}

type ChipVerifier interface {
	Parse(models.CrossCheckRequest) (*document.Document, error)
	Passive(*document.Document, cms.CertPool) error
	CrossCheck(*mrz.Result, *document.Document) models.CrossCheckResponse
}

type MrzDataConverter interface {
	ToMrzData(*mrz.Result, time.Time) (models.MrzData, error)
}

// Production implementations

type ChipVerifierImpl struct{}

func (ChipVerifierImpl) Parse(req models.CrossCheckRequest) (*document.Document, error) {
	return mrtdDoc.ParseChip(req.DataGroups, req.EFSOD)
}

func (ChipVerifierImpl) Passive(doc *document.Document, pool cms.CertPool) error {
	return mrtdDoc.PassiveAuthentication(doc, pool)
}

func (ChipVerifierImpl) CrossCheck(result *mrz.Result, doc *document.Document) models.CrossCheckResponse {
	return mrtdDoc.CrossCheck(result, doc)
}

type MrzDataConverterImpl struct{}

func (MrzDataConverterImpl) ToMrzData(result *mrz.Result, now time.Time) (models.MrzData, error) {
	return mrtdDoc.ToMrzData(result, now)
}
