// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLock_Exclusive(t *testing.T) {
	dir := t.TempDir()

	l, err := TryLock(dir, "proj")
	require.NoError(t, err)

	_, err = TryLock(dir, "proj")
	assert.ErrorIs(t, err, ErrLocked)

	// Other projects are independent.
	other, err := TryLock(dir, "other")
	require.NoError(t, err)
	other.Release()

	info, err := ReadLockInfo(LockPath(dir, "proj"))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.WithinDuration(t, time.Now(), info.StartedAt, time.Minute)

	l.Release()
	l.Release()

	again, err := TryLock(dir, "proj")
	require.NoError(t, err)
	again.Release()
}

func TestWaitLock_TimesOut(t *testing.T) {
	dir := t.TempDir()
	l, err := TryLock(dir, "proj")
	require.NoError(t, err)
	defer l.Release()

	_, err = WaitLock(dir, "proj", 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestReadLockInfo_Missing(t *testing.T) {
	info, err := ReadLockInfo(LockPath(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Nil(t, info)
}
