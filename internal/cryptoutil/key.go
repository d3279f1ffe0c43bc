package cryptoutil

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// MAC both signs and verifies.
type MAC interface {
	MACSigner
	MACVerifier
}

// Key source names reported by ResolveMAC.
const (
	KeySourceKMS    = "kms"
	KeySourceSSM    = "ssm"
	KeySourceSecret = "secret"
)

// KeyOptions selects the MAC key. KMSKeyARN wins over SSMParam, which wins
// over Secret. KMS and SSM must be set when their selector is.
type KeyOptions struct {
	Secret    string
	SSMParam  string
	KMSKeyARN string

	KMS kmsMACClient
	SSM ssmParamGetter
}

// ResolveMAC builds the MAC for opts and reports which source backs it.
func ResolveMAC(ctx context.Context, opts KeyOptions) (MAC, string, error) {
	switch {
	case opts.KMSKeyARN != "":
		if opts.KMS == nil {
			return nil, "", xerrors.New("kms key arn set without a kms client")
		}
		return &KMSMAC{client: opts.KMS, keyARN: opts.KMSKeyARN}, KeySourceKMS, nil
	case opts.SSMParam != "":
		key, err := LoadSSMSecret(ctx, opts.SSM, opts.SSMParam)
		if err != nil {
			return nil, "", err
		}
		return NewHMAC(key), KeySourceSSM, nil
	case opts.Secret != "":
		return NewHMAC([]byte(opts.Secret)), KeySourceSecret, nil
	default:
		return nil, "", xerrors.New("no MAC key configured")
	}
}
