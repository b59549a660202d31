package lambdaboot

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values    map[string]string
	requested []string
}

func (f *fakeSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(params.Name)
	f.requested = append(f.requested, name)
	if !aws.ToBool(params.WithDecryption) {
		return nil, errors.New("secrets must be decrypted")
	}
	v, ok := f.values[name]
	if !ok {
		return nil, &types.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: params.Name, Value: aws.String(v)}}, nil
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("TEST_TOKEN", "")
	t.Setenv("TEST_KEY", "already-set")
	t.Setenv("TEST_OPTIONAL", "")
	t.Setenv("TEST_TOKEN_PARAM", "/custom/token")

	getter := &fakeSSM{values: map[string]string{"/custom/token": "tok-from-ssm"}}
	secrets := []Secret{
		{EnvVar: "TEST_TOKEN", ParamEnvVar: "TEST_TOKEN_PARAM", DefaultParam: "/default/token", Required: true},
		{EnvVar: "TEST_KEY", DefaultParam: "/default/key", Required: true},
		{EnvVar: "TEST_OPTIONAL", DefaultParam: "/default/optional"},
	}

	loaded, err := LoadSecrets(context.Background(), getter, secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("TEST_TOKEN"); got != "tok-from-ssm" {
		t.Errorf("expected token from SSM, got %q", got)
	}
	if got := os.Getenv("TEST_KEY"); got != "already-set" {
		t.Errorf("environment value should win, got %q", got)
	}
	if loaded["TEST_TOKEN"] != "/custom/token" || len(loaded) != 1 {
		t.Errorf("unexpected loaded map %v", loaded)
	}
	for _, name := range getter.requested {
		if name == "/default/key" {
			t.Error("SSM should not be queried for variables already set")
		}
	}
}

func TestLoadSecretsRequiredMissing(t *testing.T) {
	t.Setenv("TEST_TOKEN", "")
	_, err := LoadSecrets(context.Background(), &fakeSSM{}, []Secret{
		{EnvVar: "TEST_TOKEN", DefaultParam: "/default/token", Required: true},
	})
	if err == nil {
		t.Fatal("expected error for missing required secret")
	}
	var notFound *types.ParameterNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected wrapped ParameterNotFound, got %v", err)
	}
}
