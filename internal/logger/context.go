package logger

// Component-specific logger functions

// ORM returns a logger for registry and query operations
func ORM() Logger {
	return WithField("component", "orm")
}

// DB returns a logger for connection and schema operations
func DB() Logger {
	return WithField("component", "db")
}

// HTTP returns a logger for request handling
func HTTP() Logger {
	return WithField("component", "http")
}

// Redirects returns a logger for the redirects app
func Redirects() Logger {
	return WithField("component", "redirects")
}

// CLI returns a logger for CLI operations
func CLI() Logger {
	return WithField("component", "cli")
}
