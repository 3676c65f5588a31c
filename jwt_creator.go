package main

import (
	"crypto/rsa"
	"os"
	"time"

	"go-mrz-scanner/models"

	"github.com/golang-jwt/jwt/v4"
	irma "github.com/privacybydesign/irmago"
)

type JwtCreator interface {
	CreateMrzJwt(data models.MrzData) (jwt string, err error)
}

func NewIrmaJwtCreator(privateKeyPath string,
	issuerId string,
	credential string,
	sdJwtBatchSize uint,
) (*DefaultJwtCreator, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, err
	}

	return &DefaultJwtCreator{
		issuerId:       issuerId,
		privateKey:     privateKey,
		credential:     credential,
		sdJwtBatchSize: sdJwtBatchSize,
	}, nil
}

type DefaultJwtCreator struct {
	privateKey     *rsa.PrivateKey
	issuerId       string
	credential     string
	sdJwtBatchSize uint
}

func (jc *DefaultJwtCreator) createJwt(attributes map[string]string) (string, error) {
	issuanceRequest := jc.createIssuanceRequest(attributes)

	return irma.SignSessionRequest(
		issuanceRequest,
		jwt.GetSigningMethod(jwt.SigningMethodRS256.Alg()),
		jc.privateKey,
		jc.issuerId,
	)
}

const DATE_FORMAT_CYMD = "2006-01-02"

func mrzAttributes(data models.MrzData) map[string]string {
	return map[string]string{
		"documentNumber": data.DocumentNumber,
		"documentType":   data.DocumentType,
		"firstName":      data.FirstName,
		"lastName":       data.LastName,
		"nationality":    data.Nationality,
		"dateOfBirth":    data.DateOfBirth.Format(DATE_FORMAT_CYMD),
		"yearOfBirth":    data.YearOfBirth,
		"isEuCitizen":    data.IsEuCitizen,
		"dateOfExpiry":   data.DateOfExpiry.Format(DATE_FORMAT_CYMD),
		"gender":         data.Gender,
		"country":        data.Country,
		"over12":         data.Over12,
		"over16":         data.Over16,
		"over18":         data.Over18,
		"over21":         data.Over21,
		"over65":         data.Over65,
	}
}

func (jc *DefaultJwtCreator) CreateMrzJwt(data models.MrzData) (string, error) {
	return jc.createJwt(mrzAttributes(data))
}

// createIssuanceRequest is split from createJwt so tests can inspect it.
func (jc *DefaultJwtCreator) createIssuanceRequest(attributes map[string]string) *irma.IssuanceRequest {
	validity := irma.Timestamp(time.Unix(time.Now().AddDate(1, 0, 0).Unix(), 0)) // 1 year from now

	return irma.NewIssuanceRequest([]*irma.CredentialRequest{
		{
			CredentialTypeID: irma.NewCredentialTypeIdentifier(jc.credential),
			Attributes:       attributes,
			SdJwtBatchSize:   jc.sdJwtBatchSize,
			Validity:         &validity,
		},
	})
}
