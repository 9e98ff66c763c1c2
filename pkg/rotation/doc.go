// Package rotation implements the window rotation that drives the live pond
// dashboard. A Rotator cycles through a finite, time ordered series and, on every
// call, hands out a fixed-size observation window followed by a fixed-size
// forecast window, so a continuously refreshing view scrolls through all of the
// recorded history and then starts over.
//
// Terminology
//   - W: window length, the rows shown as actual readings.
//   - F: forecast length, the rows immediately after the window, shown as the
//     "next" values.
//   - Cursor: the start index of the next window for one series identifier.
//   - maxStart: N - (W+F), the last start index that still fits a full
//     window and forecast into a series of N rows.
//
// Rotation
//   - The cursor for a series is created lazily at zero (Cursors.GetOrInsert).
//   - On each call the stored cursor is clamped to maxStart, the window is
//     series[c:c+W] and the forecast is series[c+W:c+W+F].
//   - The cursor then advances by exactly one row and wraps to zero once it
//     would pass maxStart. Consecutive windows overlap by W-1 rows.
//   - A series shorter than W+F fails with an *InsufficientDataError and the
//     stored cursor is left untouched.
//
// Sessions
//
// Cursor state belongs to a display session. Sessions keys a Rotator per
// session identifier so that two viewers of the same pond do not advance each
// other's cursors. Idle sessions are evicted by StartJanitor.
//
// Derived views
//   - Classify and FrameTrend turn the difference between the last forecast row
//     and the last window row into a rising/falling/flat Trend.
//   - AlignWindows and Bands align several series by row index and compute
//     per-row min/median/max for the overview page. Series of unequal length
//     are handled according to an explicit AlignPolicy.
package rotation
