// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package datastore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// errgroupWithContext is a thin indirection so GetCallWithRelations's fan-out
// reads the same way the teacher's concurrent fetches do elsewhere in this
// module (internal/recap mirrors the same pattern).
func errgroupWithContext(ctx context.Context) (*errgroup.Group, context.Context) {
	return errgroup.WithContext(ctx)
}
