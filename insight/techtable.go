package insight

// techTable maps a lowercased token (language keyword, file extension
// without the dot, or tool name) to its canonical technology name, per
// spec.md §4.9's "curated extension/keyword table (≥60 entries)".
var techTable = map[string]string{
	"go":         "Go",
	"golang":     "Go",
	"py":         "Python",
	"python":     "Python",
	"js":         "JavaScript",
	"javascript": "JavaScript",
	"ts":         "TypeScript",
	"typescript": "TypeScript",
	"rb":         "Ruby",
	"ruby":       "Ruby",
	"java":       "Java",
	"rs":         "Rust",
	"rust":       "Rust",
	"c":          "C",
	"cpp":        "C++",
	"cxx":        "C++",
	"cs":         "C#",
	"csharp":     "C#",
	"php":        "PHP",
	"swift":      "Swift",
	"kt":         "Kotlin",
	"kotlin":     "Kotlin",
	"scala":      "Scala",
	"sql":        "SQL",
	"sh":         "Shell",
	"bash":       "Shell",
	"yaml":       "YAML",
	"yml":        "YAML",
	"json":       "JSON",
	"html":       "HTML",
	"css":        "CSS",
	"scss":       "SCSS",
	"proto":      "Protobuf",
	"protobuf":   "Protobuf",
	"dockerfile": "Docker",
	"docker":     "Docker",
	"kubernetes": "Kubernetes",
	"k8s":        "Kubernetes",
	"helm":       "Helm",
	"terraform":  "Terraform",
	"ansible":    "Ansible",
	"vagrant":    "Vagrant",
	"postgres":   "PostgreSQL",
	"postgresql": "PostgreSQL",
	"mysql":      "MySQL",
	"sqlite":     "SQLite",
	"redis":      "Redis",
	"kafka":      "Kafka",
	"rabbitmq":   "RabbitMQ",
	"grpc":       "gRPC",
	"graphql":    "GraphQL",
	"react":      "React",
	"vue":        "Vue",
	"angular":    "Angular",
	"django":     "Django",
	"flask":      "Flask",
	"rails":      "Rails",
	"spring":     "Spring",
	"express":    "Express",
	"nextjs":     "Next.js",
	"webpack":    "Webpack",
	"vite":       "Vite",
	"jenkins":    "Jenkins",
	"circleci":   "CircleCI",
	"aws":        "AWS",
	"gcp":        "GCP",
	"azure":      "Azure",
	"prometheus": "Prometheus",
	"grafana":    "Grafana",
	"elasticsearch": "Elasticsearch",
	"mongodb":    "MongoDB",
	"cassandra":  "Cassandra",
	"nginx":      "Nginx",
	"envoy":      "Envoy",
	"istio":      "Istio",
	"oauth":      "OAuth",
	"jwt":        "JWT",
	"websocket":  "WebSocket",
	"bazel":      "Bazel",
	"gradle":     "Gradle",
	"maven":      "Maven",
	"npm":        "npm",
	"yarn":       "Yarn",
	"pip":        "pip",
	"cargo":      "Cargo",
	"gitea":      "Gitea",
	"gitlab":     "GitLab",
	"github":     "GitHub",
	"bbolt":      "bbolt",
	"bolt":       "bbolt",
}
