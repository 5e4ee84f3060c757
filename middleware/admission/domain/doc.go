// Package domain define os tipos e contratos do controle de admissão:
// identidade do cliente, quotas e janelas fixas, padrões de tráfego,
// máquina de estados de penalidade, eventos de segurança e a taxonomia de erros.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (memória, Redis, Prometheus).
package domain
