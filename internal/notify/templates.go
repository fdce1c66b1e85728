package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	LangDa = "da"
	LangEn = "en"
)

var (
	monthsDa = [...]string{"januar", "februar", "marts", "april", "maj", "juni",
		"juli", "august", "september", "oktober", "november", "december"}
	monthsEn = [...]string{"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"}
)

// FormatDate renders t as "2. januar 2025" for Danish and "January 2, 2025"
// otherwise.
func FormatDate(t time.Time, lang string) string {
	if lang == LangDa {
		return fmt.Sprintf("%d. %s %d", t.Day(), monthsDa[t.Month()-1], t.Year())
	}
	return fmt.Sprintf("%s %d, %d", monthsEn[t.Month()-1], t.Day(), t.Year())
}

// ─── EMAIL / IN-APP COPY ──────────────────────────────────────────────────────

// Title is the email subject line for a notification.
func Title(t Type, lang string, isUser bool) string {
	if lang == LangDa {
		switch t {
		case TypeBookingConfirmation:
			if isUser {
				return "Din booking er bekræftet! 🎉"
			}
			return "Ny booking bekræftet! 👨‍🍳"
		case TypeBookingReminder24h:
			return "Påmindelse: Din madoplevelse i morgen! 🍽️"
		case TypeBookingReminder1h:
			return "Din kok ankommer snart! ⏰"
		case TypeBookingCompletion:
			return "Hvordan var din madoplevelse? ⭐"
		case TypeBookingModified:
			return "Din booking er blevet opdateret"
		case TypeBookingCancelled:
			return "Din booking er blevet aflyst"
		}
	}
	switch t {
	case TypeBookingConfirmation:
		if isUser {
			return "Your booking is confirmed! 🎉"
		}
		return "New booking confirmed! 👨‍🍳"
	case TypeBookingReminder24h:
		return "Reminder: Your dining experience tomorrow! 🍽️"
	case TypeBookingReminder1h:
		return "Your chef is arriving soon! ⏰"
	case TypeBookingCompletion:
		return "How was your dining experience? ⭐"
	case TypeBookingModified:
		return "Your booking has been updated"
	case TypeBookingCancelled:
		return "Your booking has been cancelled"
	}
	return string(t)
}

// Content is the body used for email and in-app notifications when no
// stored template applies. The counterpart's name is the chef for users and
// the user for chefs.
func Content(t Type, lang string, isUser bool, data map[string]any) string {
	name := counterpart(data, isUser)
	bookingTime := str(data["booking_time"])

	if lang == LangDa {
		date := str(data["booking_date"])
		switch t {
		case TypeBookingConfirmation:
			if isUser {
				return fmt.Sprintf("Din booking med %s er bekræftet for %s kl. %s.", name, date, bookingTime)
			}
			return fmt.Sprintf("Du har fået en ny booking fra %s for %s kl. %s.", name, date, bookingTime)
		case TypeBookingReminder24h:
			return fmt.Sprintf("Påmindelse: Din madoplevelse med %s er i morgen kl. %s.", name, bookingTime)
		case TypeBookingReminder1h:
			return fmt.Sprintf("Din madoplevelse med %s starter om 1 time.", name)
		default:
			return fmt.Sprintf("Opdatering vedrørende din booking med %s.", name)
		}
	}

	date := str(data["booking_date_en"])
	switch t {
	case TypeBookingConfirmation:
		if isUser {
			return fmt.Sprintf("Your booking with %s is confirmed for %s at %s.", name, date, bookingTime)
		}
		return fmt.Sprintf("You have received a new booking from %s for %s at %s.", name, date, bookingTime)
	case TypeBookingReminder24h:
		return fmt.Sprintf("Reminder: Your dining experience with %s is tomorrow at %s.", name, bookingTime)
	case TypeBookingReminder1h:
		return fmt.Sprintf("Your dining experience with %s starts in 1 hour.", name)
	default:
		return fmt.Sprintf("Update regarding your booking with %s.", name)
	}
}

// ─── PUSH COPY ────────────────────────────────────────────────────────────────

var pushTitles = map[string]map[Type]string{
	LangDa: {
		TypeBookingReminder24h: "Madoplevelse i morgen",
		TypeBookingReminder1h:  "Kok ankommer snart",
		TypeBookingCompletion:  "Bedøm din oplevelse",
		TypeBookingModified:    "Booking opdateret",
		TypeBookingCancelled:   "Booking aflyst",
	},
	LangEn: {
		TypeBookingReminder24h: "Dining experience tomorrow",
		TypeBookingReminder1h:  "Chef arriving soon",
		TypeBookingCompletion:  "Rate your experience",
		TypeBookingModified:    "Booking updated",
		TypeBookingCancelled:   "Booking cancelled",
	},
}

// PushTitle is the short heading shown on the lock screen.
func PushTitle(t Type, lang string, isUser bool) string {
	if lang != LangDa {
		lang = LangEn
	}
	if t == TypeBookingConfirmation {
		switch {
		case lang == LangDa && isUser:
			return "Booking bekræftet!"
		case lang == LangDa:
			return "Ny booking!"
		case isUser:
			return "Booking confirmed!"
		default:
			return "New booking!"
		}
	}
	if title, ok := pushTitles[lang][t]; ok {
		return title
	}
	return string(t)
}

// PushContent is the one-line push body.
func PushContent(t Type, lang string, isUser bool, data map[string]any) string {
	name := counterpart(data, isUser)
	bookingTime := str(data["booking_time"])

	if lang == LangDa {
		switch t {
		case TypeBookingConfirmation:
			if isUser {
				return fmt.Sprintf("Med %s på %s", name, str(data["booking_date"]))
			}
			return fmt.Sprintf("Fra %s på %s", name, str(data["booking_date"]))
		case TypeBookingReminder24h:
			return fmt.Sprintf("Med %s kl. %s", name, bookingTime)
		case TypeBookingReminder1h:
			return name + " ankommer snart"
		default:
			return "Vedrørende booking med " + name
		}
	}

	switch t {
	case TypeBookingConfirmation:
		if isUser {
			return fmt.Sprintf("With %s on %s", name, str(data["booking_date_en"]))
		}
		return fmt.Sprintf("From %s on %s", name, str(data["booking_date_en"]))
	case TypeBookingReminder24h:
		return fmt.Sprintf("With %s at %s", name, bookingTime)
	case TypeBookingReminder1h:
		return name + " arriving soon"
	default:
		return "Regarding booking with " + name
	}
}

// ─── TEMPLATE RENDERING ───────────────────────────────────────────────────────

// Render replaces every {{key}} placeholder in tmpl with the matching value
// from vars. Placeholders without a value are left untouched.
func Render(tmpl string, vars map[string]any) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", str(vars[k]))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func counterpart(data map[string]any, isUser bool) string {
	if isUser {
		return str(data["chef_name"])
	}
	return str(data["user_name"])
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		// JSON numbers decode as float64; whole numbers print without a
		// decimal point.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
