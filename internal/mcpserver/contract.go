package mcpserver

// MetadataFormatContract describes the canonical metadata record format
// that LLM consumers should follow when interpreting or composing
// reference metadata.
const MetadataFormatContract = `# Gitrefer Metadata Contract

Every reference stored in gitrefer is a directory named after its ID,
containing a ` + "`" + `metadata.json` + "`" + ` record plus zero or more attachment files.

## Layout

` + "```" + `
references/
  smith2023/
    metadata.json
    paper.pdf
  smith2023a/
    metadata.json
` + "```" + `

## Record

` + "```" + `json
{
  "type": "article",
  "title": "Optimistic Replication",
  "authors": [
    {"family": "Saito", "given": "Yasushi"}
  ],
  "year": "2005",
  "month": "3",
  "venue": "ACM Computing Surveys",
  "volume": "37",
  "issue": "1",
  "firstpage": "42",
  "lastpage": "81",
  "publisher": "ACM",
  "doi": "10.1145/1057977.1057980",
  "url": "https://doi.org/10.1145/1057977.1057980",
  "tags": ["replication", "to-read"],
  "files": ["paper.pdf"],
  "provenance": "doi",
  "created_at": "2024-03-01T12:00:00Z",
  "updated_at": "2024-03-01T12:00:00Z"
}
` + "```" + `

## Rules

1. **` + "`" + `type` + "`" + ` and ` + "`" + `title` + "`" + ` are required.** Type is one of
   ` + "`" + `article` + "`" + `, ` + "`" + `book` + "`" + `, ` + "`" + `inproceedings` + "`" + `, ` + "`" + `thesis` + "`" + `, ` + "`" + `report` + "`" + `, ` + "`" + `misc` + "`" + `.
2. **IDs (citekeys)** are lowercase ASCII: normalized first-author surname
   plus year, with an ` + "`" + `a` + "`" + `-` + "`" + `z` + "`" + ` suffix on collision (e.g. ` + "`" + `smith2023a` + "`" + `).
3. **Tags** are free-form strings, stored sorted and deduplicated.
4. **` + "`" + `files` + "`" + ` lists attachment filenames** relative to the reference
   directory. The name ` + "`" + `metadata.json` + "`" + ` is reserved and never a valid
   attachment name.
5. **` + "`" + `provenance` + "`" + `** records where the metadata came from:
   ` + "`" + `doi` + "`" + `, ` + "`" + `pdf` + "`" + `, or ` + "`" + `manual` + "`" + `.
6. **Unknown fields are preserved.** Consumers may attach extra keys (for
   example ` + "`" + `rating` + "`" + ` or ` + "`" + `reading_status` + "`" + `) and gitrefer carries them
   through edits untouched.
7. **Timestamps** are UTC RFC 3339.
8. **Encoding** is indented JSON with sorted keys and a trailing newline.
   Do not hand-edit whitespace; re-encoding is deterministic.
`
