package radar

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// topicCategories groups search topics by domain.
var topicCategories = map[string][]string{
	"llm": {
		"llm",
		"large-language-model",
		"language-model",
		"gpt",
		"bert",
		"transformer",
	},
	"genai":  {"generative-ai", "genai", "ai-generation", "artificial-intelligence"},
	"llmops": {"llmops", "mlops", "ai-ops", "model-deployment", "ai-infrastructure"},
	"ml": {
		"machine-learning",
		"deep-learning",
		"neural-network",
		"pytorch",
		"tensorflow",
	},
	"nlp": {
		"nlp",
		"natural-language-processing",
		"text-processing",
		"language-understanding",
	},
}

// repoLists are curated explicit-list sets, keyed like topicCategories.
var repoLists = map[string][]string{
	"llm": {
		"huggingface/transformers",
		"openai/openai-python",
		"microsoft/DeepSpeed",
		"THUDM/ChatGLM-6B",
		"facebookresearch/llama",
		"google-research/bert",
		"microsoft/DialoGPT",
		"EleutherAI/gpt-neox",
		"bigscience-workshop/Megatron-DeepSpeed",
		"huggingface/tokenizers",
	},
	"genai": {
		"langchain-ai/langchain",
		"run-llama/llama_index",
		"openai/gym",
		"Stability-AI/stablediffusion",
		"CompVis/stable-diffusion",
		"microsoft/semantic-kernel",
		"hwchase17/langchain",
		"jerryjliu/llama_index",
		"guidance-ai/guidance",
		"microsoft/autogen",
	},
	"llmops": {
		"bentoml/BentoML",
		"ray-project/ray",
		"mlflow/mlflow",
		"wandb/wandb",
		"optuna/optuna",
		"determined-ai/determined",
		"feast-dev/feast",
		"kubeflow/kubeflow",
		"seldon-io/seldon-core",
		"onnx/onnx",
	},
	"ml": {
		"pytorch/pytorch",
		"tensorflow/tensorflow",
		"scikit-learn/scikit-learn",
		"keras-team/keras",
		"Lightning-AI/lightning",
		"jax-ml/jax",
		"dmlc/xgboost",
		"catboost/catboost",
		"microsoft/LightGBM",
		"apache/spark",
	},
	"nlp": {
		"explosion/spaCy",
		"nltk/nltk",
		"RaRe-Technologies/gensim",
		"flairNLP/flair",
		"stanfordnlp/stanza",
		"allenai/allennlp",
		"pytorch/fairseq",
		"google-research/language",
		"UKPLab/sentence-transformers",
		"deepset-ai/haystack",
	},
}

// Categories returns the names of the built-in topic categories, sorted.
func Categories() []string {
	names := maps.Keys(topicCategories)
	slices.Sort(names)
	return names
}

// RepoLists returns the names of the built-in repository lists, sorted.
func RepoLists() []string {
	names := maps.Keys(repoLists)
	slices.Sort(names)
	return names
}

// CategoryTopics returns the topics of a built-in category.
func CategoryTopics(name string) ([]string, bool) {
	t, ok := topicCategories[strings.ToLower(name)]
	return slices.Clone(t), ok
}

// RepoList returns a built-in repository list.
func RepoList(name string) ([]string, bool) {
	l, ok := repoLists[strings.ToLower(name)]
	return slices.Clone(l), ok
}

// resolveTopics expands categories into topics and merges them with the
// explicit ones, dropping duplicates while keeping first-seen order.
func resolveTopics(topics, categories []string) ([]string, error) {
	var all []string
	all = append(all, topics...)
	for _, c := range categories {
		t, ok := CategoryTopics(c)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", c)
		}
		all = append(all, t...)
	}
	return uniqueFold(all), nil
}

func resolveRepos(repos, lists []string) ([]string, error) {
	var all []string
	all = append(all, repos...)
	for _, name := range lists {
		l, ok := RepoList(name)
		if !ok {
			return nil, fmt.Errorf("unknown repository list %q", name)
		}
		all = append(all, l...)
	}
	return uniqueFold(all), nil
}

func uniqueFold(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok || s == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
