package conf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ResolvePassword fills in the password. Outside localhost it is read from
// the AWS secret named by PasswordSecretName.
func (pg PostgresConfig) ResolvePassword(ctx context.Context) (PostgresConfig, error) {
	if pg.Host == "localhost" || pg.PasswordSecretName == "" {
		return pg, nil
	}
	secretValue, err := getSecretFromAWS(ctx, pg.PasswordSecretName)
	if err != nil {
		return pg, fmt.Errorf("failed to get postgres password from AWS: %w", err)
	}
	var secret struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(secretValue), &secret); err != nil {
		return pg, fmt.Errorf("failed to parse postgres password secret: %w", err)
	}
	pg.Password = secret.Password
	return pg, nil
}

func (pg PostgresConfig) ConnStr() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.DB, pg.SSLMode)
}

// MigrateURL is the connection in the URL form golang-migrate expects.
func (pg PostgresConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pg.User, pg.Password),
		Host:     fmt.Sprintf("%s:%d", pg.Host, pg.Port),
		Path:     "/" + pg.DB,
		RawQuery: "sslmode=" + pg.SSLMode,
	}
	return u.String()
}

func getSecretFromAWS(ctx context.Context, secretName string) (string, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", err
	}
	svc := secretsmanager.NewFromConfig(cfg)
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := svc.GetSecretValue(ctx, input)
	if err != nil {
		return "", err
	}
	return *result.SecretString, nil
}
