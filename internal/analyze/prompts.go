package analyze

import (
	"strings"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// SystemPrompt instructs the model to return one JSON object describing the
// karaoke vendor, hosts and recurring shows found in the content.
const SystemPrompt = `You extract karaoke show schedules from web pages and social media flyers.

Return exactly one JSON object and nothing else, with this shape:

{
  "vendor": {"name": "", "website": "", "description": "", "confidence": 0.0} | null,
  "djs": [{"name": "", "context": "", "confidence": 0.0}],
  "shows": [{
    "venue": "", "address": "", "city": "", "state": "", "zip": "",
    "lat": null, "lng": null,
    "day": "", "time": "", "start_time": "", "end_time": "",
    "dj_name": "", "vendor_name": "", "description": "",
    "confidence": 0.0
  }]
}

Rules:
- "vendor" is the karaoke company that runs the shows, or null if none is named.
- "djs" are the karaoke hosts (KJs/DJs) named in the content.
- Each show is one recurring weekly karaoke night at one venue. "day" is the
  full weekday name. Use 24-hour "HH:MM" for start_time and end_time when the
  times are known, and copy the original wording into "time".
- "dj_name" and "vendor_name" must repeat a name from "djs" or "vendor".
- Confidence is between 0 and 1.
- Never invent venues, addresses or times that are not in the content.
- If the content has no karaoke shows, return {"vendor": null, "djs": [], "shows": []}.`

func userPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Source URL: ")
	b.WriteString(in.URL)
	b.WriteString("\n\n")
	if in.Kind == model.ContentImage {
		b.WriteString("The attached image was posted in a karaoke group or on a karaoke website. ")
		b.WriteString("Read every schedule, venue, host and company name on it.")
		return b.String()
	}
	b.WriteString("Page text:\n")
	b.WriteString(in.Text)
	return b.String()
}
