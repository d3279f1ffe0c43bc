package cryptoutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// ssmParamGetter is the subset of the SSM API needed to read a parameter.
type ssmParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSSMSecret reads HMAC key material from an SSM parameter, decrypting
// SecureString values. The value is used verbatim as key bytes.
func LoadSSMSecret(ctx context.Context, client ssmParamGetter, name string) ([]byte, error) {
	if client == nil {
		return nil, xerrors.New("ssm client is not configured")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", name)
	}
	if *out.Parameter.Value == "" {
		return nil, xerrors.Newf("SSM parameter %s is empty", name)
	}
	return []byte(*out.Parameter.Value), nil
}
