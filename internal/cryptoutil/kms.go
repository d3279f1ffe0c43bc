package cryptoutil

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// kmsMACClient is the subset of the KMS API needed for HMAC keys.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsMACClient interface {
	GenerateMac(ctx context.Context, params *kms.GenerateMacInput, optFns ...func(*kms.Options)) (*kms.GenerateMacOutput, error)
	VerifyMac(ctx context.Context, params *kms.VerifyMacInput, optFns ...func(*kms.Options)) (*kms.VerifyMacOutput, error)
}

// KMSMAC signs and verifies HMAC-SHA256 MACs with a KMS HMAC key
// (KeySpec HMAC_256, KeyUsage GENERATE_VERIFY_MAC). Key material stays in KMS.
type KMSMAC struct {
	client kmsMACClient
	keyARN string
}

func (v *KMSMAC) SignMAC(ctx context.Context, message []byte) (string, error) {
	if v.client == nil {
		return "", xerrors.New("kms client is not configured")
	}
	out, err := v.client.GenerateMac(ctx, &kms.GenerateMacInput{
		KeyId:        aws.String(v.keyARN),
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha256,
		Message:      message,
	})
	if err != nil {
		return "", xerrors.Wrap(err, "kms generate mac")
	}
	return base64.StdEncoding.EncodeToString(out.Mac), nil
}

// VerifyMAC asks KMS to verify the MAC. Undecodable or wrongly sized MACs
// fail locally without a KMS call. An invalid MAC is a false result,
// not an error; transport and permission failures are returned as errors.
func (v *KMSMAC) VerifyMAC(ctx context.Context, message []byte, signatureB64 string) (bool, error) {
	mac, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(mac) != sha256.Size {
		return false, nil
	}
	if v.client == nil {
		return false, xerrors.New("kms client is not configured")
	}

	out, err := v.client.VerifyMac(ctx, &kms.VerifyMacInput{
		KeyId:        aws.String(v.keyARN),
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha256,
		Message:      message,
		Mac:          mac,
	})
	if err != nil {
		var invalid *kmstypes.KMSInvalidMacException
		if errors.As(err, &invalid) {
			return false, nil
		}
		return false, xerrors.Wrap(err, "kms verify mac")
	}
	return out.MacValid, nil
}
