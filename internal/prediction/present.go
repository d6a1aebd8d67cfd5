package prediction

import "fmt"

// ripeningWindowDays is the span the progress bar covers.
const ripeningWindowDays = 14

// Describe renders an estimate as a user-facing sentence.
func Describe(days int) string {
	switch days {
	case 0:
		return "Your banana is ready to bake now!"
	case 1:
		return "Your banana will be bake-ready tomorrow!"
	default:
		return fmt.Sprintf("Your banana will be bake-ready in %d days!", days)
	}
}

// RipenessProgress maps an estimate onto a 0-100 progress value.
func RipenessProgress(days int) float64 {
	progress := float64(ripeningWindowDays-days) / ripeningWindowDays * 100
	return max(0, min(100, progress))
}
