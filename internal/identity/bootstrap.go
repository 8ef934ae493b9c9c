// Copyright 2026 The SubGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/subgate/subgate/internal/gate"
)

const (
	EnvBootstrapOperatorEmail    = "SG_BOOTSTRAP_OPERATOR_EMAIL"
	EnvBootstrapOperatorPassword = "SG_BOOTSTRAP_OPERATOR_PASSWORD"
)

// Bootstrap provisions the initial platform operator from the environment.
// A no-op when the variables are unset or the operator already exists, so
// it is safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	email := os.Getenv(EnvBootstrapOperatorEmail)
	password := os.Getenv(EnvBootstrapOperatorPassword)

	if email == "" {
		return nil
	}
	if password == "" {
		return fmt.Errorf("%s is set but %s is empty", EnvBootstrapOperatorEmail, EnvBootstrapOperatorPassword)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		// Already bootstrapped, skip silently.
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to check for existing operator: %w", err)
	}

	user, err := s.Provision(ctx, nil, email, "Platform Operator", gate.RolePlatformOperator)
	if err != nil {
		return fmt.Errorf("failed to provision bootstrap operator: %w", err)
	}

	if err := s.AddPassword(ctx, user.ID, password); err != nil {
		return fmt.Errorf("failed to set bootstrap operator password: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped initial platform operator", "email", email)
	return nil
}
