package client_test

import (
	"context"
	"testing"

	"github.com/gwtwod/humiocli/internal/client"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestNewCloudWatchOptions(t *testing.T) {
	tests := []struct {
		name    string
		region  string
		profile string
		env     map[string]string
		wantLen int
	}{
		{name: "no region or profile, no env", wantLen: 0},
		{name: "with region", region: "us-east-1", wantLen: 1},
		{name: "with profile flag", profile: "my-profile", wantLen: 1},
		{name: "with AWS_PROFILE env", env: map[string]string{"AWS_PROFILE": "env-profile"}, wantLen: 1},
		{name: "with static creds", env: map[string]string{"AWS_ACCESS_KEY_ID": "key", "AWS_SECRET_ACCESS_KEY": "secret"}, wantLen: 1},
		{name: "incomplete static creds are ignored", env: map[string]string{"AWS_ACCESS_KEY_ID": "key"}, wantLen: 0},
		{name: "profile overrides static creds", profile: "my-profile", env: map[string]string{"AWS_ACCESS_KEY_ID": "key", "AWS_SECRET_ACCESS_KEY": "secret"}, wantLen: 1},
		{name: "with region and profile", region: "us-west-2", profile: "another-profile", wantLen: 2},
		{name: "with region and static creds", region: "us-west-2", env: map[string]string{"AWS_ACCESS_KEY_ID": "key", "AWS_SECRET_ACCESS_KEY": "secret"}, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := client.NewCloudWatchOptions(client.AuthFromEnv(tt.region, tt.profile, lookup(tt.env)))
			if len(opts) != tt.wantLen {
				t.Errorf("NewCloudWatchOptions() returned %d options, want %d", len(opts), tt.wantLen)
			}
		})
	}
}

func TestAuthFromEnv(t *testing.T) {
	env := lookup(map[string]string{
		"AWS_PROFILE":           "env-profile",
		"AWS_ACCESS_KEY_ID":     "key",
		"AWS_SECRET_ACCESS_KEY": "secret",
		"AWS_SESSION_TOKEN":     "token",
	})
	got := client.AuthFromEnv("eu-west-1", "", env)
	want := client.AuthOptions{Region: "eu-west-1", Profile: "env-profile", AccessKeyID: "key", SecretAccessKey: "secret", SessionToken: "token"}
	if got != want {
		t.Fatalf("AuthFromEnv() = %+v, want %+v", got, want)
	}
	if got := client.AuthFromEnv("", "flag", env).Profile; got != "flag" {
		t.Fatalf("profile = %q, want flag", got)
	}
}

func TestNewCloudWatchClientWithRegion(t *testing.T) {
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_CONFIG_FILE", t.TempDir()+"/missing")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", t.TempDir()+"/missing")

	c, err := client.NewCloudWatchClient(context.Background(), client.AuthOptions{
		Region:          "eu-west-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Options().Region; got != "eu-west-1" {
		t.Fatalf("region = %q, want eu-west-1", got)
	}
}
