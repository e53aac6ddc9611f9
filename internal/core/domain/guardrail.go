package domain

type Verdict string

const (
	VerdictAnswerable Verdict = "answerable"
	VerdictAmbiguous  Verdict = "ambiguous"
	VerdictOutOfScope Verdict = "out_of_scope"
)

type GuardrailResult struct {
	Verdict Verdict
	// Missing names the dimension a clarification asks for.
	Missing string
	Message string
}

// GuardrailLexicon configures scope and ambiguity detection.
type GuardrailLexicon struct {
	DomainTerms       []string `yaml:"domain_terms"`
	DocumentTypes     []string `yaml:"document_types"`
	AmbiguousPatterns []string `yaml:"ambiguous_patterns"`
	Clarification     string   `yaml:"clarification"`
	Refusal           string   `yaml:"refusal"`
}

// DefaultGuardrailLexicon covers Indonesian civil-registration and licensing documents.
func DefaultGuardrailLexicon() GuardrailLexicon {
	return GuardrailLexicon{
		DomainTerms: []string{
			"syarat", "persyaratan", "dokumen", "berkas", "permohonan", "pengajuan", "pendaftaran",
			"perpanjangan", "pembuatan", "membuat", "mengurus", "biaya", "prosedur", "formulir",
			"kantor", "dukcapil", "imigrasi", "kelurahan", "kecamatan", "legalisir", "pasal", "peraturan",
			"undang", "requirement", "requirements", "document", "documents", "apply", "application",
			"renew", "renewal", "permit", "license", "fee", "procedure", "regulation",
		},
		DocumentTypes: []string{
			"ktp", "e-ktp", "ktp elektronik", "kk", "kartu keluarga", "akta kelahiran", "akta kematian",
			"akta perkawinan", "akta", "paspor", "passport", "sim", "npwp", "skck", "nib", "imb", "pbg",
			"kia", "surat pindah", "surat keterangan", "visa", "kitas", "identity card", "birth certificate",
			"driving license",
		},
		AmbiguousPatterns: []string{
			`^(apa|apa saja|what are|what is|what's)( the)? (syarat|syaratnya|persyaratan|persyaratannya|requirements?)( nya)?$`,
			`^(bagaimana|gimana) (cara|caranya)( mengurus| membuat| mendaftar)?( nya)?$`,
			`^(how (do|can) i) (apply|register|renew|get one|get it)$`,
			`^(dokumen|berkas|documents?) apa( saja)?( yang)?( diperlukan| dibutuhkan| needed)?$`,
			`^(berapa|how much)( is| are)? (biaya|biayanya|the fee|fees?)( nya)?$`,
			`^(syarat|syaratnya|persyaratan|requirements?|biaya|biayanya|prosedur|procedure)$`,
		},
		Clarification: "Dokumen apa yang Anda maksud? Sebutkan jenis dokumennya, misalnya: {examples}.",
		Refusal:       "Maaf, saya hanya dapat menjawab pertanyaan seputar persyaratan dan prosedur dokumen administrasi.",
	}
}
