package calendar

// Built-in holiday tables. Exchange announcements override these through the
// market configuration's holidays list; keep the tables current as new years
// are published.
var exchangeHolidays = map[Exchange][]string{
	ExchangeNYSE: {
		// 2025
		"2025-01-01", // New Year's Day
		"2025-01-20", // Martin Luther King Jr. Day
		"2025-02-17", // Washington's Birthday
		"2025-04-18", // Good Friday
		"2025-05-26", // Memorial Day
		"2025-06-19", // Juneteenth
		"2025-07-04", // Independence Day
		"2025-09-01", // Labor Day
		"2025-11-27", // Thanksgiving Day
		"2025-12-25", // Christmas Day
		// 2026
		"2026-01-01", // New Year's Day
		"2026-01-19", // Martin Luther King Jr. Day
		"2026-02-16", // Washington's Birthday
		"2026-04-03", // Good Friday
		"2026-05-25", // Memorial Day
		"2026-06-19", // Juneteenth
		"2026-07-03", // Independence Day (observed)
		"2026-09-07", // Labor Day
		"2026-11-26", // Thanksgiving Day
		"2026-12-25", // Christmas Day
	},
	ExchangeNSE: {
		// 2025
		"2025-01-26", // Republic Day
		"2025-02-26", // Maha Shivaratri
		"2025-03-14", // Holi
		"2025-03-31", // Id-Ul-Fitr
		"2025-04-10", // Mahavir Jayanti
		"2025-04-14", // Ambedkar Jayanti
		"2025-04-18", // Good Friday
		"2025-05-01", // Maharashtra Day
		"2025-06-07", // Id-Ul-Adha
		"2025-08-15", // Independence Day
		"2025-08-27", // Ganesh Chaturthi
		"2025-10-02", // Gandhi Jayanti
		"2025-10-21", // Dussehra
		"2025-10-22", // Diwali Laxmi Pujan
		"2025-11-05", // Diwali Balipratipada
		"2025-11-24", // Gurunanak Jayanti
		"2025-12-25", // Christmas
		// 2026 (partial, update as announced)
		"2026-01-26", // Republic Day
		"2026-12-25", // Christmas
	},
}
