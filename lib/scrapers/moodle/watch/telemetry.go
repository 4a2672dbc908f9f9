package watch

import "coursewatch/lib/telemetry"

var tracer = telemetry.Tracer("coursewatch.lib.scrapers.moodle.watch")
