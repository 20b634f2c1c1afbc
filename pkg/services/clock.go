package services

import "time"

// Clock は現在時刻と処理遅延のシミュレーションを提供します。
// テストでは遅延ゼロの実装に差し替えます。
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock は実時間を使う Clock です。
type SystemClock struct{}

// Now は現在時刻を返します。
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep は d だけ待機します。
func (SystemClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}
