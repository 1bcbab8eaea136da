package mcpserver

// RecordFormatContract describes the record fields and the image cache
// behaviour that LLM consumers should follow when creating records.
const RecordFormatContract = `# Roster Record Format Contract

Every record managed by Roster has the following fields.

## Fields

| Field | Type | Set by | Notes |
|---|---|---|---|
| ` + "`id`" + ` | integer | server | Assigned on creation, never reused after deletion. |
| ` + "`name`" + ` | string | caller | REQUIRED, 1 to 200 characters. |
| ` + "`category`" + ` | string | caller | Free label, up to 100 characters. |
| ` + "`level`" + ` | integer | caller | Zero or greater. |
| ` + "`description`" + ` | string | caller | Free text. |
| ` + "`image_url`" + ` | string | caller | Remote image URL. Empty becomes ` + "`Не вказано`" + `. |
| ` + "`local_image_path`" + ` | string | server | Empty until the image has been cached. |
| ` + "`image_hash`" + ` | string | server | Lower-case hex SHA-256 of the cached file. |
| ` + "`created_at`" + ` | timestamp | server | Immutable. |
| ` + "`is_image_downloading`" + ` | bool | server | True while a fetch is in flight. |

## Image caching

1. Creating a record returns immediately. The image is downloaded in the
   background; poll ` + "`get_record`" + ` until ` + "`is_image_downloading`" + ` is false.
2. A failed download leaves ` + "`local_image_path`" + ` and ` + "`image_hash`" + ` empty.
   Call ` + "`refetch_image`" + ` to try again.
3. Cached files are named ` + "`character_<id>_<basename>.png`" + `. The ` + "`.png`" + `
   extension is applied whatever the source format is; bytes are stored as
   received.
4. An image that is already cached is never downloaded again unless
   ` + "`refetch_image`" + ` is called.
5. Deleting a record removes its cached image.

## Example

` + "```" + `json
{
  "name": "Mira",
  "category": "mage",
  "level": 3,
  "description": "Keeper of the northern archive.",
  "image_url": "https://example.com/portraits/mira.png"
}
` + "```" + `
`
