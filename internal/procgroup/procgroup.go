// SPDX-License-Identifier: MIT

// Package procgroup spawns external processes in their own process group and
// signals the whole group, so encoder helpers forked by the encoder die with
// it.
package procgroup
