package vision

import "fmt"

// zonePrompt instructs the model over a fixed zone taxonomy and asks it to
// detect the page's natural language alongside the classification.
func zonePrompt(url string) string {
	return fmt.Sprintf(`You are an expert in web advertising and ad placement optimization.

Analyze the attached screenshot of the website %s and identify advertising placement zones.

Zone taxonomy (only these names are valid):
- Header: top of the page, navigation area
- Sidebar: left or right sidebar areas
- Content: within the main content area, between blocks
- Footer: bottom of the page
- Popup: overlay or modal opportunities

For each zone that is actually present on the page, report:
- name: the zone name from the taxonomy above
- available: true if the spot is free, false if it is already occupied by an ad
- size: recommended banner size (for example "728x90", "300x250")
- priority: "high" for the most visible spots, "medium" for moderately visible, "low" for present but less optimal
- description: where exactly the zone is and why it is suitable

Also detect the natural language of the page content.

Return ONLY a JSON object in this exact shape, with no additional text:
{
  "zones": [
    {"name": "Header", "available": true, "size": "728x90", "priority": "high", "description": "..."}
  ],
  "language": "ru" or "en"
}

Important: only include zones that actually exist on the website. Honestly assess whether each spot is free or already taken.`, url)
}
