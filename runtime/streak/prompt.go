package streak

import (
	"fmt"
	"time"

	"github.com/royalbadminton/streakbot/runtime/booking"
)

const managerSystemPrompt = "You are the Badminton Club Manager. You only act through the tools you are given."

// managerPrompt is the instruction for the model-driven daily check.
func managerPrompt(today time.Time, portalURL string) string {
	date := today.Format("2006-01-02")
	day := today.Weekday().String()
	return fmt.Sprintf(`You are the Badminton Club Manager. Today is %[1]s (%[2]s).

Goal: Identify regular players who missed their session today and remind them.

1. Call get_booking_history to see recent bookings.
2. Analyze the data:
   - Identify players who usually play on %[2]ss (e.g. played the last 2-3 %[2]ss).
   - Check if they have a booking for TODAY (%[1]s).
3. If a regular player missed today, craft a UNIQUE reminder for that player (no copy/paste text):
   - Mention their name, usual weekday/court, and the last date you saw them play (based on the data).
   - Suggest their next opportunity or include a motivational line that fits their pattern.
   - Include the bookings portal link once per message: %[3]s
   Then call send_whatsapp_reminder with that personalized copy.

If no one missed a streak, just output "No reminders needed."`, date, day, portalURL)
}

// reminderText is the fixed reminder used by the deterministic check.
func reminderText(a Absentee, portalURL string) string {
	return fmt.Sprintf("Hey %s! We missed you on the court today (%s). Don't let the streak break! 🏸 Book your next session: %s",
		a.PlayerName, booking.WeekdayName(a.Weekday), portalURL)
}
